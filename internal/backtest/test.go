// Package backtest runs strategies over stored history: the Test artefact
// directory, the deterministic event loop of the Driver, and the persistence
// of trade lists and reports.
package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arbat/internal/asset"
	"arbat/internal/domain"
	"arbat/internal/report"
)

// Status labels of a test directory.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusEdited   Status = "EDITED"
	StatusProcess  Status = "PROCESS"
	StatusComplete Status = "COMPLETE"
	StatusUndefine Status = "UNDEFINE"
)

// Artefact file names inside a test directory.
const (
	configFile    = "config.json"
	assetListFile = "alist" + asset.ListExt
	statusFile    = "status.txt"
	tradeListFile = "tlist.tl"
	reportFile    = "report.csv"
)

// Config is the frozen configuration of one test run.
type Config struct {
	Name           string           `json:"name"`
	Strategy       string           `json:"strategy"`
	Version        string           `json:"version"`
	Timeframe      domain.Timeframe `json:"timeframe"`
	Deposit        float64          `json:"deposit"`
	CommissionRate float64          `json:"commission_rate"`
	Lots           int              `json:"lots"`
	Begin          time.Time        `json:"begin"`
	End            time.Time        `json:"end"`
	Description    string           `json:"description,omitempty"`
}

// Validate checks the parts of a config the driver cannot run without.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: test without a name", domain.ErrTestMisconfigured)
	}
	if !c.Begin.Before(c.End) {
		return fmt.Errorf("%w: begin %s not before end %s", domain.ErrTestMisconfigured, c.Begin, c.End)
	}
	if c.Deposit <= 0 {
		return fmt.Errorf("%w: non-positive deposit", domain.ErrTestMisconfigured)
	}
	if c.Lots <= 0 {
		return fmt.Errorf("%w: non-positive lots", domain.ErrTestMisconfigured)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("%w: negative commission rate", domain.ErrTestMisconfigured)
	}
	return nil
}

// Test couples a frozen configuration with its artefact directory. The
// configuration and asset list snapshot are written once at creation;
// outputs land in the same directory when the driver runs.
type Test struct {
	Config Config
	Assets *asset.List

	dir string
}

// NewTest validates the configuration, creates the artefact directory and
// persists the config, asset list snapshot and a NEW status.
func NewTest(dir string, cfg Config, assets *asset.List) (*Test, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if assets == nil || assets.Len() == 0 {
		return nil, fmt.Errorf("%w: empty asset list", domain.ErrTestMisconfigured)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	t := &Test{Config: cfg, Assets: assets, dir: dir}
	if err := t.writeConfig(); err != nil {
		return nil, err
	}
	if err := assets.Save(filepath.Join(dir, assetListFile)); err != nil {
		return nil, err
	}
	if err := t.SetStatus(StatusNew); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTest reads a test back from its artefact directory.
func LoadTest(dir string) (*Test, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrIO, configFile, err)
	}
	assets, err := asset.LoadList(filepath.Join(dir, assetListFile))
	if err != nil {
		return nil, err
	}
	return &Test{Config: cfg, Assets: assets, dir: dir}, nil
}

// Dir returns the artefact directory.
func (t *Test) Dir() string { return t.dir }

// Status reads the current status label. A missing or unrecognised label
// reports UNDEFINE.
func (t *Test) Status() Status {
	data, err := os.ReadFile(filepath.Join(t.dir, statusFile))
	if err != nil {
		return StatusUndefine
	}
	switch s := Status(strings.TrimSpace(string(data))); s {
	case StatusNew, StatusEdited, StatusProcess, StatusComplete:
		return s
	default:
		return StatusUndefine
	}
}

// SetStatus persists a status label.
func (t *Test) SetStatus(s Status) error {
	path := filepath.Join(t.dir, statusFile)
	if err := os.WriteFile(path, []byte(string(s)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}

// Edit replaces the configuration and asset list and flips the status to
// EDITED. Prior output artefacts stay on disk until the next run overwrites
// them.
func (t *Test) Edit(cfg Config, assets *asset.List) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if assets == nil || assets.Len() == 0 {
		return fmt.Errorf("%w: empty asset list", domain.ErrTestMisconfigured)
	}
	t.Config = cfg
	t.Assets = assets
	if err := t.writeConfig(); err != nil {
		return err
	}
	if err := assets.Save(filepath.Join(t.dir, assetListFile)); err != nil {
		return err
	}
	return t.SetStatus(StatusEdited)
}

// TradeListPath returns the path of the persisted trade list artefact.
func (t *Test) TradeListPath() string { return filepath.Join(t.dir, tradeListFile) }

// TradeList loads the persisted trade list artefact of a completed run.
func (t *Test) TradeList() (*report.TradeList, error) {
	return report.LoadTradeList(t.TradeListPath())
}

// ReportPath returns the path of the report CSV artefact.
func (t *Test) ReportPath() string { return filepath.Join(t.dir, reportFile) }

func (t *Test) writeConfig() error {
	data, err := json.MarshalIndent(t.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal config: %v", domain.ErrIO, err)
	}
	data = append(data, '\n')

	path := filepath.Join(t.dir, configFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}
