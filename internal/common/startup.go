package common

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	commonconfig "github.com/armadaproject/jobflow/internal/common/config"
	"github.com/armadaproject/jobflow/internal/common/logging"
)

const envPrefix = "JOBFLOW"

// LoadConfig reads the config file named "config" found in defaultPath, merges any files in overrideConfigs on
// top of it, applies JOBFLOW_* environment overrides and unmarshals the result into config.
// Nested keys map to environment variables with dots replaced by underscores, e.g. submission.bundleSize is
// overridden by JOBFLOW_SUBMISSION_BUNDLESIZE.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || len(overrideConfigs) == 0 {
			return nil, errors.Wrapf(err, "error reading base config from %s", defaultPath)
		}
		log.Infof("no base config found in %s; using override configs only", defaultPath)
	}
	log.Debugf("read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Debugf("merged config from %s", overrideConfig)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
	if level, ok := os.LookupEnv(envPrefix + "_LOG_LEVEL"); ok {
		if parsed, err := log.ParseLevel(level); err == nil {
			log.SetLevel(parsed)
		}
	}
}

func ConfigureCommandLineLogging() {
	log.SetFormatter(&logging.CommandLineFormatter{})
	log.SetOutput(os.Stdout)
}
