package config

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type colour int

const (
	red colour = iota
	blue
)

func (c *colour) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "red":
		*c = red
	case "blue":
		*c = blue
	default:
		return errors.Errorf("unknown colour %q", text)
	}
	return nil
}

type hookedConfig struct {
	Colour   colour
	Timeout  time.Duration
	Names    []string
	Unhooked string
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
colour: blue
timeout: 5s
names: a,b
unhooked: red
`)))

	var cfg hookedConfig
	require.NoError(t, v.Unmarshal(&cfg, CustomHooks...))
	assert.Equal(t, hookedConfig{Colour: blue, Timeout: 5 * time.Second, Names: []string{"a", "b"}, Unhooked: "red"}, cfg)
}

func TestCustomHooks_InvalidEnum(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader("colour: green\n")))

	var cfg hookedConfig
	assert.Error(t, v.Unmarshal(&cfg, CustomHooks...))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&RedisConfig{Addrs: []string{"localhost:6379"}}))
	assert.Error(t, Validate(&RedisConfig{}))
	assert.Error(t, Validate(&RedisConfig{Addrs: []string{"localhost:6379"}, DB: 17}))
}
