package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	upMarker       = "-- +goose Up"
	downMarker     = "-- +goose Down"
	stmtBeginToken = "-- +goose StatementBegin"
	stmtEndToken   = "-- +goose StatementEnd"
)

// Validate checks every .sql file in src for a well-formed name, a unique
// version, both goose sections and balanced statement blocks. All problems
// are reported together.
func Validate(src Source) error {
	if src.FS == nil || src.Dir == "" {
		return fmt.Errorf("migration source is required")
	}
	entries, err := fs.ReadDir(src.FS, src.Dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", src.Dir, err)
	}

	var errs error
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := seen[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(src.FS, path.Join(src.Dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read file %q: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkBody(name, string(b)))
	}
	return errs
}

// ValidateDir validates migrations on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return Validate(Disk(dir))
}

func checkBody(name, txt string) error {
	var errs error
	up := strings.Index(txt, upMarker)
	down := strings.Index(txt, downMarker)
	switch {
	case up < 0:
		errs = multierr.Append(errs, fmt.Errorf("migration %q missing %q", name, upMarker))
	case down < 0:
		errs = multierr.Append(errs, fmt.Errorf("migration %q missing %q", name, downMarker))
	case down < up:
		errs = multierr.Append(errs, fmt.Errorf("migration %q has its Down section before Up", name))
	}
	if b, e := strings.Count(txt, stmtBeginToken), strings.Count(txt, stmtEndToken); b != e {
		errs = multierr.Append(errs, fmt.Errorf("migration %q has %d StatementBegin but %d StatementEnd", name, b, e))
	}
	return errs
}
