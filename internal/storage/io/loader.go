package io

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/satdl/internal/model"
)

//go:embed profiles/*.yaml
var embeddedProfiles embed.FS

const (
	// DefaultProfilePath is the path of the embedded default portal profile.
	DefaultProfilePath = "profiles/sat.yaml"

	defaultDateFormat = "02/01/2006"
)

// ProfileYAMLRepository loads portal profiles from YAML files.
type ProfileYAMLRepository struct {
	fs fs.FS
}

// NewProfileYAMLRepository creates a new YAML profile repository.
func NewProfileYAMLRepository(filesystem fs.FS) *ProfileYAMLRepository {
	return &ProfileYAMLRepository{fs: filesystem}
}

// NewEmbeddedProfileRepository returns a repository serving the built-in profiles.
func NewEmbeddedProfileRepository() *ProfileYAMLRepository {
	return &ProfileYAMLRepository{fs: embeddedProfiles}
}

// GetProfile loads a portal profile from a YAML file and returns a validated domain model.
func (r *ProfileYAMLRepository) GetProfile(ctx context.Context, path string) (model.PortalProfile, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.PortalProfile{}, fmt.Errorf("reading profile file: %w", err)
	}

	if ctx.Err() != nil {
		return model.PortalProfile{}, ctx.Err()
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.PortalProfile{}, fmt.Errorf("parsing YAML: %w", err)
	}

	profile := p.toModel()
	if err := profile.Validate(); err != nil {
		return model.PortalProfile{}, fmt.Errorf("invalid profile: %w", err)
	}

	return profile, nil
}

// Profile represents the YAML structure of a portal profile.
type Profile struct {
	Name       string          `yaml:"name"`
	LoginURL   string          `yaml:"login_url"`
	SearchURL  string          `yaml:"search_url"`
	DateFormat string          `yaml:"date_format"`
	Selectors  SelectorsConfig `yaml:"selectors"`
	Timeouts   TimeoutsConfig  `yaml:"timeouts"`
	Egress     EgressConfig    `yaml:"egress"`
}

// SelectorsConfig represents the YAML structure of the portal selectors.
type SelectorsConfig struct {
	TaxIDInput         string `yaml:"tax_id_input"`
	PasswordInput      string `yaml:"password_input"`
	CaptchaAnswerInput string `yaml:"captcha_answer_input"`
	LoginSubmit        string `yaml:"login_submit"`
	LoginMarker        string `yaml:"login_marker"`
	LoginError         string `yaml:"login_error"`
	CaptchaContainer   string `yaml:"captcha_container"`
	CaptchaImage       string `yaml:"captcha_image"`
	StartDateInput     string `yaml:"start_date_input"`
	EndDateInput       string `yaml:"end_date_input"`
	SearchSubmit       string `yaml:"search_submit"`
	ResultsMarker      string `yaml:"results_marker"`
	NoResults          string `yaml:"no_results"`
	ResultRows         string `yaml:"result_rows"`
	RowDownload        string `yaml:"row_download"`
	RowIdentifier      string `yaml:"row_identifier"`
}

// TimeoutsConfig represents the YAML structure of the stage timeouts.
type TimeoutsConfig struct {
	Login        time.Duration `yaml:"login"`
	CaptchaCheck time.Duration `yaml:"captcha_check"`
	Search       time.Duration `yaml:"search"`
	Settle       time.Duration `yaml:"settle"`
}

// EgressConfig represents the YAML structure of the expected browser egress.
type EgressConfig struct {
	Default string             `yaml:"default"`
	Rules   []EgressRuleConfig `yaml:"rules"`
}

// EgressRuleConfig represents the YAML structure of an egress rule.
type EgressRuleConfig struct {
	Domain string `yaml:"domain"`
	CIDR   string `yaml:"cidr"`
	Action string `yaml:"action"`
}

func (p Profile) toModel() model.PortalProfile {
	if p.DateFormat == "" {
		p.DateFormat = defaultDateFormat
	}

	s := p.Selectors
	profile := model.PortalProfile{
		Name:       p.Name,
		LoginURL:   p.LoginURL,
		SearchURL:  p.SearchURL,
		DateFormat: p.DateFormat,
		Selectors: model.PortalSelectors{
			TaxIDInput:         s.TaxIDInput,
			PasswordInput:      s.PasswordInput,
			CaptchaAnswerInput: s.CaptchaAnswerInput,
			LoginSubmit:        s.LoginSubmit,
			LoginMarker:        s.LoginMarker,
			LoginError:         s.LoginError,
			CaptchaContainer:   s.CaptchaContainer,
			CaptchaImage:       s.CaptchaImage,
			StartDateInput:     s.StartDateInput,
			EndDateInput:       s.EndDateInput,
			SearchSubmit:       s.SearchSubmit,
			ResultsMarker:      s.ResultsMarker,
			NoResults:          s.NoResults,
			ResultRows:         s.ResultRows,
			RowDownload:        s.RowDownload,
			RowIdentifier:      s.RowIdentifier,
		},
		Timeouts: model.PortalTimeouts{
			Login:        p.Timeouts.Login,
			CaptchaCheck: p.Timeouts.CaptchaCheck,
			Search:       p.Timeouts.Search,
			Settle:       p.Timeouts.Settle,
		},
		Egress: model.EgressPolicy{
			Default: model.EgressAction(p.Egress.Default),
		},
	}

	for _, r := range p.Egress.Rules {
		profile.Egress.Rules = append(profile.Egress.Rules, model.EgressRule{
			Domain: r.Domain,
			CIDR:   r.CIDR,
			Action: model.EgressAction(r.Action),
		})
	}

	return profile
}
