package logsplit

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings holds the runtime configuration for the splitter. Values are read
// from an optional YAML file and may be overridden on the command line.
type Settings struct {
	Database DBSettings    `yaml:"database" bson:"database" json:"database"`
	Split    SplitSettings `yaml:"split" bson:"split" json:"split"`
	LogPath  string        `yaml:"log_path" bson:"log_path" json:"log_path"`
}

// DBSettings describes the backing store location.
type DBSettings struct {
	Url             string `yaml:"url" bson:"url" json:"url"`
	DB              string `yaml:"db" bson:"db" json:"db"`
	UseTransactions bool   `yaml:"use_transactions" bson:"use_transactions" json:"use_transactions"`
}

type SplitSettings struct {
	MaxChunkSize     int  `yaml:"max_chunk_size" bson:"max_chunk_size" json:"max_chunk_size"`
	ProgressInterval int  `yaml:"progress_interval" bson:"progress_interval" json:"progress_interval"`
	DryRun           bool `yaml:"dry_run" bson:"dry_run" json:"dry_run"`
}

// NewSettings reads settings from the YAML file at path. The result has not
// been validated.
func NewSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file '%s'", path)
	}

	settings := &Settings{}
	if err = yaml.Unmarshal(data, settings); err != nil {
		return nil, errors.Wrapf(err, "parsing settings file '%s'", path)
	}

	return settings, nil
}

// Validate fills in defaults for unset values and rejects impossible ones.
func (s *Settings) Validate() error {
	if s.Database.Url == "" {
		s.Database.Url = DefaultDatabaseURL
	}
	if s.Database.DB == "" {
		s.Database.DB = DefaultDatabaseName
	}

	if s.Split.MaxChunkSize == 0 {
		s.Split.MaxChunkSize = DefaultMaxChunkSize
	}
	if s.Split.MaxChunkSize < 0 {
		return errors.Errorf("max chunk size must be positive, got %d", s.Split.MaxChunkSize)
	}
	if s.Split.ProgressInterval == 0 {
		s.Split.ProgressInterval = DefaultProgressInterval
	}
	if s.Split.ProgressInterval < 0 {
		return errors.Errorf("progress interval must be positive, got %d", s.Split.ProgressInterval)
	}

	return nil
}
