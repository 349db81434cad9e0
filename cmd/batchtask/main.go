// Command batchtask is the program batchboy stages and runs on the batch
// service. It reports its name, the settings found next to it and its
// environment.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type settingsFile struct {
	AppSettings map[string]string `yaml:"appSettings"`
}

func main() {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "locating executable: %v\n", err)
		os.Exit(1)
	}
	name := strings.TrimSuffix(filepath.Base(exe), ".exe")

	settingsPath := filepath.Join(filepath.Dir(exe), name+".yaml")
	settings, found, err := loadSettings(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", settingsPath, err)
		os.Exit(1)
	}
	if !found {
		fmt.Fprintf(os.Stderr, "no %s found next to the executable\n", filepath.Base(settingsPath))
	}

	report(os.Stdout, name, settings, os.Environ())
}

func loadSettings(path string) (map[string]string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, true, err
	}
	return f.AppSettings, true, nil
}

func report(w io.Writer, name string, settings map[string]string, environ []string) {
	fmt.Fprintf(w, "This is %s running!\n", name)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "App settings:")
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, settings[k])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	env := append([]string(nil), environ...)
	sort.Strings(env)
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(w, "  %s = %s\n", k, v)
	}
}
