package sensor

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrEmptyScript = errors.New("script has no steps")

// Step is one tick of a scripted route.
type Step struct {
	Lat        float64  `yaml:"lat"`
	Lng        float64  `yaml:"lng"`
	AltitudeM  float64  `yaml:"altitude_m"`
	SpeedMps   float64  `yaml:"speed_mps"`
	Steps      int      `yaml:"steps"`
	CadenceSps *float64 `yaml:"cadence_sps"`
}

type Script struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	// FailAfter makes the source report a sensor failure once that many
	// steps have been played. Zero disables it.
	FailAfter int    `yaml:"fail_after"`
	Steps     []Step `yaml:"steps"`
}

func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return Script{}, ErrEmptyScript
	}
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	return s, nil
}

func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}
