package schedule

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const snapshotFile = "scheduled.json"

// snapshot writes the session's rules (next_run_at and paused included) next
// to its output log, atomically. An empty rule set removes the file.
func (s *Scheduler) snapshot(sess *session.Session) {
	rules := s.ListForSession(sess.ID)
	path := filepath.Join(sess.Dir(), snapshotFile)

	if len(rules) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("session", sess.ID).Warn("failed to remove schedule snapshot")
		}
		return
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		logrus.WithError(err).WithField("session", sess.ID).Warn("failed to marshal schedule snapshot")
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logrus.WithError(err).WithField("session", sess.ID).Warn("failed to write schedule snapshot")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		logrus.WithError(err).WithField("session", sess.ID).Warn("failed to publish schedule snapshot")
	}
}

// Restore rearms snapshotted rules whose sessions are still running and
// discards snapshots of dead ones. Sessions themselves are never resumed
// across restarts, so on a cold start this amounts to sweeping stale
// scheduled.json files.
func (s *Scheduler) Restore() {
	root := filepath.Join(s.cfg.DataDir, "sessions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warn("failed to scan session dirs for schedule snapshots")
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), snapshotFile)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		sess, err := s.reg.Get(entry.Name())
		if err != nil || sess.Terminated() {
			if err := os.Remove(path); err != nil {
				logrus.WithError(err).WithField("session", entry.Name()).Warn("failed to discard stale schedule snapshot")
			}
			continue
		}

		var rules []Rule
		if err := json.Unmarshal(data, &rules); err != nil {
			logrus.WithError(err).WithField("session", entry.Name()).Warn("corrupt schedule snapshot, discarding")
			os.Remove(path)
			continue
		}

		s.mu.Lock()
		for i := range rules {
			r := rules[i]
			if r.RuleID == "" || r.SessionID != sess.ID {
				continue
			}
			s.rules[r.RuleID] = &r
			s.armLocked(&r)
		}
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"session": sess.ID,
			"rules":   len(rules),
		}).Info("restored schedule snapshot")
	}
}
