package git

import (
	"context"
	"strings"
)

const (
	logFieldSep  = "\x1f"
	logRecordSep = "\x1e"
)

// Commit is a commit returned by Log.
type Commit struct {
	ID      string
	Subject string
	// Message is the full commit message including the subject.
	Message string
}

// ShortID returns the first 12 characters of the commit ID.
func (c *Commit) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}

	return c.ID
}

// Log returns the commits in revRange, newest first.
func (r *Repo) Log(ctx context.Context, revRange string) ([]*Commit, error) {
	out, err := r.run(ctx, "log", "--format=%H"+logFieldSep+"%s"+logFieldSep+"%B"+logRecordSep, revRange)
	if err != nil {
		return nil, err
	}

	return parseLog(out), nil
}

func parseLog(out string) []*Commit {
	var result []*Commit

	for _, record := range strings.Split(out, logRecordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		fields := strings.SplitN(record, logFieldSep, 3)
		if len(fields) != 3 {
			continue
		}

		result = append(result, &Commit{
			ID:      fields[0],
			Subject: fields[1],
			Message: strings.TrimSpace(fields[2]),
		})
	}

	return result
}
