// Package templater renders unit configuration files from config.tmpl.
//
// The template language has a single construct, {{ dotted.path }}, resolved
// against a nested map. Paths that do not resolve to a scalar are written
// back as {{ path }}, so rendering an already rendered text with the same
// context changes nothing.
package templater

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/atomicfile"
	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
)

// ReservedKey holds unit identity inside the template context
const ReservedKey = "shuriken"

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// ParseTemplate substitutes every placeholder in text
func ParseTemplate(text string, ctx map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := lookup(ctx, path); ok {
			return value
		}
		return "{{ " + path + " }}"
	})
}

// lookup walks path through nested tables and renders the scalar it names
func lookup(ctx map[string]interface{}, path string) (string, bool) {
	var current interface{} = ctx
	for _, key := range strings.Split(path, ".") {
		table, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = table[key]
		if !ok {
			return "", false
		}
	}
	return renderScalar(current)
}

func renderScalar(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case time.Time:
		return v.Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// BuildContext returns the template context of the unit stored under name:
// its config fields at the top level plus the reserved shuriken table. name is
// the catalog key; the manifest name is exposed as display_name only.
func BuildContext(name string, unit manifest.Unit, root string) map[string]interface{} {
	ctx := unit.Clone().Config.Fields
	if ctx == nil {
		ctx = make(map[string]interface{})
	}
	ctx[ReservedKey] = map[string]interface{}{
		"name":         name,
		"display_name": unit.Manifest.Name,
		"id":           unit.Manifest.ID,
		"type":         unit.Manifest.Type,
		"dir":          manifest.UnitDir(root, name),
		"workdir":      manifest.WorkDir(root, name),
	}
	return ctx
}

// GenerateConfig renders <unitDir>/.ninja/config.tmpl into targetPath. A
// relative targetPath resolves against the unit working directory.
func GenerateConfig(unitDir, targetPath string, ctx map[string]interface{}) error {
	workDir := filepath.Join(unitDir, manifest.NinjaDir)
	templatePath := filepath.Join(workDir, manifest.TemplateFile)
	if targetPath == "" {
		return errors.NewValidationError("config path is empty", nil).WithContext("template", templatePath)
	}
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(workDir, targetPath)
	}

	if err := requireDir(filepath.Dir(templatePath)); err != nil {
		return errors.NewTemplatePathNotFoundError("template directory does not exist", err).WithContext("template", templatePath)
	}
	if err := requireDir(filepath.Dir(targetPath)); err != nil {
		return errors.NewTemplatePathNotFoundError("config target directory does not exist", err).WithContext("target", targetPath)
	}

	data, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewTemplatePathNotFoundError("template does not exist", err).WithContext("template", templatePath)
		}
		return errors.NewIOError("failed to read template", err).WithContext("template", templatePath)
	}

	rendered := ParseTemplate(string(data), ctx)
	if err := atomicfile.WriteFile(targetPath, []byte(rendered), 0644); err != nil {
		return errors.NewIOError("failed to write config", err).WithContext("target", targetPath)
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
