package configuration

import (
	"time"

	commonconfig "github.com/armadaproject/jobflow/internal/common/config"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
)

type JobflowConfiguration struct {
	// Name of the project, used as the key prefix of persisted records.
	Project     string `validate:"required"`
	Workspace   WorkspaceConfig
	Catalog     CatalogConfig
	Scheduler   SchedulerConfig
	Submission  SubmissionConfig
	Persistence PersistenceConfig
	Daemon      DaemonConfig
}

type WorkspaceConfig struct {
	// Directory holding one sub-directory per job.
	Root string `validate:"required"`
	// Number of state points kept in memory.
	StatePointCacheSize int `validate:"gt=0"`
	// Optional file to which one JSON line is appended per finished operation instance.
	AuditLog string
}

type CatalogConfig struct {
	Operations []OperationConfig `validate:"dive"`
	Labels     []LabelConfig     `validate:"dive"`
}

type OperationConfig struct {
	Name    string `validate:"required"`
	Command string `validate:"required"`
	Group   string
	// Resource directives such as np, ngpu, nranks and omp_num_threads.
	Directives map[string]interface{}
	Pre        []ConditionConfig `validate:"dive"`
	Post       []ConditionConfig `validate:"dive"`
	// Names of operations whose post-conditions must all hold before this operation is eligible.
	After       []string
	Aggregation AggregationConfig
}

type ConditionConfig struct {
	Kind condition.Kind
	// State point or document key, label name, or the builtin function name ("always") for func conditions.
	Key string `validate:"required"`
	// When unset the value at Key must be truthy.
	Value  interface{}
	Negate bool
}

type AggregationConfig struct {
	Type aggregation.Type
	// Group size for groupsof.
	GroupSize int `validate:"gte=0"`
	// State point fields for groupby.
	Keys []string
	// Value used for jobs missing a groupby key.
	Default interface{}
	SortBy  string
	Reverse bool
	// Only jobs satisfying all of these are aggregated.
	Select []ConditionConfig `validate:"dive"`
}

type LabelConfig struct {
	Name      string `validate:"required"`
	Condition ConditionConfig
}

type SchedulerConfig struct {
	// Either "fake" (in-process, for testing) or "simple" (external command).
	Type string `validate:"oneof=fake simple"`
	// Command implementing the submit/status/cancel protocol of the simple scheduler.
	Command string
	// Directory where rendered scripts are written before submission.
	ScriptDir      string
	SubmitTimeout  time.Duration `validate:"gt=0"`
	RefreshTimeout time.Duration `validate:"gt=0"`
	// Minimum time between two backend status queries; refreshes in between return the last snapshot.
	MinRefreshInterval time.Duration
}

type SubmissionConfig struct {
	// 0 means all eligible instances go into one bundle.
	MaxBundleSize int `validate:"gte=0"`
	// 0 means unlimited.
	MaxParallelSubmissions int `validate:"gte=0"`
	// Go text/template used to render submission scripts.
	Template string
	Pretend  bool
}

type PersistenceConfig struct {
	// One of "none", "redis" or "postgres".
	Type     string `validate:"oneof=none redis postgres"`
	Redis    commonconfig.RedisConfig `validate:"-"`
	Postgres PostgresConfig
	// Attempts made to load persisted records at daemon start.
	RecoveryAttempts uint `validate:"gt=0"`
}

type PostgresConfig struct {
	Connection map[string]string
	TableName  string
}

type DaemonConfig struct {
	RefreshInterval time.Duration `validate:"gt=0"`
	SubmitInterval  time.Duration `validate:"gt=0"`
	HttpPort        uint16
	// Re-evaluate eligibility whenever a job document changes.
	WatchWorkspace bool
}
