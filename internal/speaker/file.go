package speaker

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/speakerscribe/internal/timecode"
)

// ErrInvalidEnrollmentFile is returned when a speakers file fails validation.
var ErrInvalidEnrollmentFile = errors.New("speaker: invalid enrollment file")

// EnrollmentSpec is one speaker entry as written by a user, with
// "mm:ss" or "h:mm:ss" time strings.
type EnrollmentSpec struct {
	Name  string `yaml:"name" json:"name" validate:"required,max=100"`
	Start string `yaml:"start" json:"start" validate:"required"`
	End   string `yaml:"end" json:"end" validate:"required"`
}

// EnrollmentFile is the YAML document accepted by the CLI:
//
//	speakers:
//	  - name: Alice
//	    start: "00:00"
//	    end: "00:10"
type EnrollmentFile struct {
	Speakers []EnrollmentSpec `yaml:"speakers" validate:"required,min=1,dive"`
}

var validate = validator.New()

// LoadEnrollmentFile reads and validates a YAML speakers file.
func LoadEnrollmentFile(path string) (EnrollmentFile, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return EnrollmentFile{}, fmt.Errorf("open speakers file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodeEnrollmentFile(f)
}

// DecodeEnrollmentFile decodes and validates a YAML speakers document.
func DecodeEnrollmentFile(r io.Reader) (EnrollmentFile, error) {
	var ef EnrollmentFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ef); err != nil {
		return EnrollmentFile{}, fmt.Errorf("%w: %v", ErrInvalidEnrollmentFile, err)
	}
	if err := validate.Struct(ef); err != nil {
		return EnrollmentFile{}, fmt.Errorf("%w: %v", ErrInvalidEnrollmentFile, err)
	}
	return ef, nil
}

// ParseEnrollments converts user-written entries into enrollments.
// Entries whose times do not parse are returned as skipped so the caller
// can log them and carry on with the rest.
func ParseEnrollments(specs []EnrollmentSpec) ([]Enrollment, []Skipped) {
	out := make([]Enrollment, 0, len(specs))
	var skipped []Skipped
	for _, s := range specs {
		r, err := timecode.ParseRange(s.Start, s.End)
		if err != nil {
			skipped = append(skipped, Skipped{Name: s.Name, Reason: err.Error()})
			continue
		}
		out = append(out, Enrollment{Name: s.Name, Range: r})
	}
	return out, skipped
}
