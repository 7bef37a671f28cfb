package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

type filesService struct {
	CfgSvc config.IService
}

func NewFiles(cfgsvc config.IService) IService {
	return &filesService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesService) Folder() string {
	return svc.CfgSvc.GetOutputDirectory()
}

func (svc *filesService) StoreFrame(name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", xerrors.Errorf("invalid file name %q", name)
	}

	// Write to a temp file first so readers never serve a partial image.
	tmp, err := os.CreateTemp(svc.Folder(), ".capture-*")
	if err != nil {
		return "", xerrors.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", xerrors.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", xerrors.Errorf("closing %s: %w", name, err)
	}

	// Names have one-second resolution, so a second capture in the same
	// second with the same metrics replaces the first.
	target := filepath.Join(svc.Folder(), name)
	if _, err := os.Stat(target); err == nil {
		lgr.Logger.Warn("capture replaced existing file", slog.String("file", name))
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", xerrors.Errorf("storing %s: %w", name, err)
	}

	return name, nil
}

func (svc *filesService) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(svc.Folder())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jpg") {
			continue
		}
		names = append(names, e.Name())
	}

	// Names start with a timestamp, so lexicographic order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}
