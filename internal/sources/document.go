package sources

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

//go:embed services.schema.json
var serviceSchemaJSON []byte

const serviceSchemaURL = "services.schema.json"

var compileServiceSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(serviceSchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(serviceSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(serviceSchemaURL)
})

// ServiceFile is the services document read by every document-based source
type ServiceFile struct {
	Services []ServiceSpec `yaml:"services"`
}

// ParseServiceFile decodes and validates a services document. JSON is
// accepted as a subset of YAML.
func ParseServiceFile(data []byte) ([]ServiceSpec, error) {
	var doc ServiceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse service file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Services))
	for i := range doc.Services {
		spec := &doc.Services[i]
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		if _, dup := seen[spec.Key]; dup {
			return nil, fmt.Errorf("services[%d]: duplicate service key %s", i, spec.Key)
		}
		seen[spec.Key] = struct{}{}
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}
	return doc.Services, nil
}

// validateSchema checks the constraints the Go types cannot express,
// such as key syntax and unique capabilities.
func validateSchema(data []byte) error {
	schema, err := compileServiceSchema()
	if err != nil {
		return fmt.Errorf("failed to compile service schema: %w", err)
	}

	jsonData, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse service file: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to parse service file: %w", err)
	}
	if inst == nil {
		return nil
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("service file does not match schema: %w", err)
	}
	return nil
}

// document is one parsed revision of a services document
type document struct {
	specs    []ServiceSpec
	hash     string
	revision string
}

func parseDocument(data []byte, revision string) (document, error) {
	specs, err := ParseServiceFile(data)
	if err != nil {
		return document{}, err
	}
	return document{
		specs:    specs,
		hash:     fmt.Sprintf("%x", sha256.Sum256(data)),
		revision: revision,
	}, nil
}

// documentSync applies successive document revisions to a mirror,
// skipping revisions whose content did not change.
type documentSync struct {
	mirror *Mirror

	mu       sync.Mutex
	lastHash string
}

func newDocumentSync(m *Mirror) *documentSync {
	return &documentSync{mirror: m}
}

func (d *documentSync) apply(doc document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if doc.hash == d.lastHash {
		slog.Debug("Service document unchanged", "source", d.mirror.Name(), "revision", doc.revision)
		return nil
	}
	if err := d.mirror.Sync(doc.specs); err != nil {
		return err
	}
	d.lastHash = doc.hash
	if doc.revision != "" {
		slog.Info("Applied service document", "source", d.mirror.Name(), "revision", doc.revision)
	}
	return nil
}
