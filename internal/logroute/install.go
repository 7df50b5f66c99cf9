package logroute

import (
	"log"
	"log/slog"
	"sync"
)

// Install makes logger the process default for slog and the standard log
// package. The returned restore func reinstates the previous defaults and
// closes every handle the router opened; it is safe to call more than once.
func (r *Router) Install(logger *slog.Logger) (restore func()) {
	prevLogger := slog.Default()
	prevWriter := log.Writer()
	prevFlags := log.Flags()
	prevPrefix := log.Prefix()

	if logger == nil {
		logger = slog.New(r.Handler(nil))
	}
	slog.SetDefault(logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			slog.SetDefault(prevLogger)
			// slog.SetDefault leaves the log package alone when handed its
			// original default handler.
			log.SetOutput(prevWriter)
			log.SetFlags(prevFlags)
			log.SetPrefix(prevPrefix)
			if err := r.CloseAll(); err != nil {
				r.diagnose("close", err)
			}
		})
	}
}
