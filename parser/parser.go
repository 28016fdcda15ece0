package parser

import (
	"bytes"
	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/icza/dyno"
	"github.com/vsdock/vintagestory-server/config"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
)

// Template is the default settings document the server configuration is
// rendered from. It is never modified once loaded.
type Template struct {
	path string
	data map[string]interface{}
}

// LoadTemplate reads and parses the YAML settings template at the given path.
func LoadTemplate(path string) (*Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "parser: failed to read settings template")
	}

	var i interface{}
	if err := yaml.Unmarshal(b, &i); err != nil {
		return nil, errors.Wrap(err, "parser: failed to parse settings template")
	}
	if i == nil {
		return nil, errors.WithStack(ErrTemplateEmpty)
	}

	// Normalise any map[interface{}]interface{} values so that the result can be
	// marshaled as JSON without complaint.
	m, ok := dyno.ConvertMapI2MapS(i).(map[string]interface{})
	if !ok {
		return nil, errors.WithStack(ErrTemplateNotMapping)
	}

	return &Template{path: path, data: m}, nil
}

// Path returns the location the template was loaded from.
func (t *Template) Path() string {
	return t.path
}

// Resolve applies every recognized override on top of a copy of the template
// and returns the resulting document. Unrecognized overrides are logged and
// skipped, an override that cannot be coerced into its declared type fails the
// entire resolution.
func (t *Template) Resolve(set OverrideSet) (*Document, error) {
	b, err := json.Marshal(t.data)
	if err != nil {
		return nil, errors.Wrap(err, "parser: failed to copy settings template")
	}
	c, err := gabs.ParseJSON(b)
	if err != nil {
		return nil, errors.Wrap(err, "parser: failed to copy settings template")
	}

	d := &Document{c: c}
	for _, f := range set.Recognized() {
		raw := set[f.Env]
		v, ok, err := f.Coerce(raw)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.WithFields(log.Fields{"variable": f.Env, "value": raw, "expected": f.Kind.String()}).
				Warn("ignoring override that is not a recognized value")
			continue
		}
		if _, err := c.SetP(v, f.Path); err != nil {
			return nil, errors.Wrapf(err, "parser: failed to set %s", f.Path)
		}
		d.applied = append(d.applied, Applied{Field: f, Value: v})
	}

	for _, k := range set.Unrecognized() {
		log.WithField("variable", k).Warn("ignoring unknown server configuration override")
	}

	return d, nil
}

// Applied records an override that was written into a document.
type Applied struct {
	Field Field
	Value interface{}
}

// Document is a fully resolved server configuration.
type Document struct {
	c       *gabs.Container
	applied []Applied
}

// Applied returns the overrides that were written into the document, in the
// order they were applied.
func (d *Document) Applied() []Applied {
	return d.applied
}

// Get returns the value at the dot-notated path and whether it exists.
func (d *Document) Get(path string) (interface{}, bool) {
	if !d.c.ExistsP(path) {
		return nil, false
	}
	return d.c.Path(path).Data(), true
}

// Bytes returns the JSON representation of the document as it is written to
// the disk.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.c.Data()); err != nil {
		return nil, errors.Wrap(err, "parser: failed to encode server configuration")
	}
	return buf.Bytes(), nil
}

// Render writes the document to the given path. The document is written to a
// temporary file next to the destination which is then renamed into place, so
// the destination either holds the complete document or is left untouched.
//
// If a file already exists at the path its contents are copied to a ".backup"
// file first, replacing any previous backup.
func (d *Document) Render(path string) error {
	b, err := d.Bytes()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "parser: failed to create configuration directory")
	}
	if err := backup(path); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "parser: failed to create temporary configuration file")
	}
	tmp := f.Name()
	if err := writeAndClose(f, b); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "parser: failed to write configuration file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "parser: failed to move configuration file into place")
	}
	return nil
}

func writeAndClose(f *os.File, b []byte) error {
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func backup(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "parser: failed to read existing configuration for backup")
	}
	p := path + ".backup"
	log.WithField("path", p).Info("backing up existing server configuration")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return errors.Wrap(err, "parser: failed to write configuration backup")
	}
	return nil
}

// Generate renders the server configuration for the given environment to the
// output path: the template is loaded, every override from the environment
// snapshot is applied, and the result is written out.
func Generate(c *config.Configuration, output string) (*Document, error) {
	tp := c.TemplatePath()
	log.WithField("path", tp).Debug("loading server settings template")

	t, err := LoadTemplate(tp)
	if err != nil {
		return nil, err
	}

	d, err := t.Resolve(NewOverrideSet(c.Environ()))
	if err != nil {
		return nil, err
	}

	for _, a := range d.Applied() {
		log.WithFields(log.Fields{"setting": a.Field.Path, "value": a.Field.Display(a.Value)}).
			Info("applied server configuration override from environment")
	}

	log.WithField("path", output).Info("generating server configuration")
	if err := d.Render(output); err != nil {
		return nil, err
	}

	fields := log.Fields{}
	for _, k := range []string{"ServerName", "Port", "MaxClients"} {
		if v, ok := d.Get(k); ok {
			fields[k] = v
		}
	}
	if v, ok := d.Get("StartupCommands"); ok && v != nil && v != "" {
		fields["StartupCommands"] = v
	}
	log.WithFields(fields).Info("successfully generated server configuration")

	return d, nil
}
