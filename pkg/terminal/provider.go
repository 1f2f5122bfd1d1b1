package terminal

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Start obtains a live session using the attach-then-allocate strategy:
// try every discovered candidate, and if none attaches, allocate a fresh
// pseudo-terminal. Allocation is always attempted when attach fails, so
// the call only errors when both strategies are exhausted.
func Start(opts Options, log *logrus.Logger) (Session, error) {
	opts.fill()

	candidates, err := Discover(opts.AttachPriority)
	if err != nil && err != ErrNoCandidate {
		log.WithError(err).Debug("terminal discovery failed")
	}
	for _, c := range candidates {
		s, err := Attach(c, opts)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"pid":   c.PID,
				"title": c.Title,
			}).Debug("attach failed, trying next candidate")
			continue
		}
		log.WithFields(logrus.Fields{
			"pid":   c.PID,
			"title": c.Title,
		}).Info("attached to existing terminal")
		return s, nil
	}

	s, err := Allocate(opts.Shell, opts.Cols, opts.Rows)
	if err != nil {
		return nil, fmt.Errorf("allocate terminal: %w", err)
	}
	log.WithFields(logrus.Fields{
		"shell": opts.Shell,
		"cols":  opts.Cols,
		"rows":  opts.Rows,
	}).Info("allocated pseudo-terminal")
	return s, nil
}
