// Package artifact reads and writes the documents passed between
// pipeline stages: the topology a run starts from, and the run
// itself. Each is checked against a JSON schema before it is used.
package artifact

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

//go:embed schema/*.json
var schemas embed.FS

// ValidationError lists every way a document fails its schema.
type ValidationError struct {
	Document string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Document, strings.Join(e.Problems, "; "))
}

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

func schema(name string) (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = map[string]*gojsonschema.Schema{}
		for _, n := range []string{"topology", "run"} {
			b, err := schemas.ReadFile("schema/" + n + ".json")
			if err != nil {
				compileErr = err
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
			if err != nil {
				compileErr = errors.Wrapf(err, "compiling %s schema", n)
				return
			}
			compiled[n] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return compiled[name], nil
}

func validate(name string, doc []byte) error {
	s, err := schema(name)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.Wrapf(err, "reading %s", name)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Document: name}
	for _, re := range result.Errors() {
		verr.Problems = append(verr.Problems, re.String())
	}
	return verr
}

// ParseTopology reads a topology in YAML or JSON.
func ParseTopology(b []byte) (deploy.Topology, error) {
	var topo deploy.Topology
	doc, err := yaml.YAMLToJSON(b)
	if err != nil {
		return topo, errors.Wrap(err, "parsing topology")
	}
	if err := validate("topology", doc); err != nil {
		return topo, err
	}
	if err := json.Unmarshal(doc, &topo); err != nil {
		return topo, errors.Wrap(err, "decoding topology")
	}
	return topo, nil
}

// DecodeRun reads a run artifact, in JSON or YAML.
func DecodeRun(b []byte) (deploy.Run, error) {
	var run deploy.Run
	doc, err := yaml.YAMLToJSON(b)
	if err != nil {
		return run, errors.Wrap(err, "parsing run")
	}
	if err := validate("run", doc); err != nil {
		return run, err
	}
	if err := json.Unmarshal(doc, &run); err != nil {
		return run, errors.Wrap(err, "decoding run")
	}
	return run, nil
}

// EncodeRun writes a run artifact as indented JSON. The result is
// validated, so a stage never hands on something the next stage
// would refuse.
func EncodeRun(run deploy.Run) ([]byte, error) {
	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding run")
	}
	if err := validate("run", b); err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
