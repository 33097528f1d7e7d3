package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func decodeJSONLenient(b []byte, v *map[string]any) error {
	return json.Unmarshal(b, v)
}

// decodeByExtension decodes b as YAML or JSON depending on path's
// extension (".json" forces JSON, anything else tries YAML, which is a
// superset of JSON). Unlike a strict DisallowUnknownFields decoder,
// unknown keys are ignored here for forward compatibility. Only config
// files are decoded through this function; status files are plain JSON.
func decodeByExtension(path string, b []byte) (map[string]any, error) {
	var decoded map[string]any
	ext := strings.ToLower(filepath.Ext(path))
	var err error
	if ext == ".json" {
		err = decodeJSONLenient(b, &decoded)
	} else {
		err = yaml.Unmarshal(b, &decoded)
	}
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory followed by an atomic rename, so a crash mid-write never
// leaves a truncated file in place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
