package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sardine-ai/go-db-config/internal/config"
	"github.com/sirupsen/logrus"
)

// dump loads the named sources, or all of them, once and writes each as a
// YAML document. Sources that failed to load are reported after the rest are
// written.
func dump(ctx context.Context, cfg *config.Config, names []string, out io.Writer) error {
	selected, err := selectSources(cfg.Sources, names)
	if err != nil {
		return err
	}
	for i := range selected {
		selected[i].RefreshInterval = 0
	}

	repos, err := openRepositories(ctx, &config.Config{Sources: selected}, logrus.StandardLogger())
	if err != nil {
		return err
	}
	defer closeRepositories(repos)

	var errs []error
	for _, repo := range repos {
		status := repo.Status()
		if !status.IsReady {
			errs = append(errs, fmt.Errorf("source %s: %s", repo.GetName(), status.LastError))
			continue
		}
		if _, err := fmt.Fprintf(out, "---\n# %s\n%s", repo.GetName(), repo.GetRawData()); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func selectSources(sources []config.SourceConfig, names []string) ([]config.SourceConfig, error) {
	if len(names) == 0 {
		return append([]config.SourceConfig(nil), sources...), nil
	}
	byName := make(map[string]config.SourceConfig, len(sources))
	for _, sc := range sources {
		byName[sc.Name] = sc
	}
	selected := make([]config.SourceConfig, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		selected = append(selected, sc)
	}
	return selected, nil
}
