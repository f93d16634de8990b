package app

import (
	stderrors "errors"
	"log/slog"

	"unremark/internal/core/errors"
	"unremark/internal/shared/util"
)

// WriteFixes writes every validated fixed source back to its path. It keeps
// going past individual failures and returns them joined.
func WriteFixes(res *RunResult, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		written int
		errs    []error
	)
	for _, f := range res.Files {
		if f.FixedSource == nil || f.FixErr != nil {
			continue
		}
		if err := util.WriteFileAtomic(f.Path, f.FixedSource); err != nil {
			logger.Error("failed to write fixed source", "path", f.Path, "error", err)
			errs = append(errs, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "write fixed source"), errors.CtxPath, f.Path))
			continue
		}
		logger.Info("removed redundant comments", "path", f.Path, "removed", f.Removed)
		written++
	}
	return written, stderrors.Join(errs...)
}
