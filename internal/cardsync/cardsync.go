// Package cardsync copies card numbers from one terminal to another.
//
// Only the card field of destination records changes; name, privilege,
// group and password stay as the destination has them.
package cardsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

// Match selects the field that pairs source and destination records.
type Match string

const (
	MatchUserID Match = "user_id"
	MatchUID    Match = "uid"
	MatchName   Match = "name"
)

// ParseMatch validates a --match value. Empty means MatchUserID.
func ParseMatch(s string) (Match, error) {
	switch Match(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchUserID:
		return MatchUserID, nil
	case MatchUID:
		return MatchUID, nil
	case MatchName:
		return MatchName, nil
	}
	return "", fmt.Errorf("unknown match field %q (use user_id, uid or name)", s)
}

func (m Match) key(e models.Employee) string {
	switch m {
	case MatchUID:
		if e.UID <= 0 {
			return ""
		}
		return strconv.Itoa(e.UID)
	case MatchName:
		return strings.ToLower(strings.TrimSpace(e.Name))
	default:
		return strings.TrimSpace(e.UserID)
	}
}

// Outcome is what happened to one source record.
type Outcome string

const (
	Updated   Outcome = "updated"
	Planned   Outcome = "planned"
	Unchanged Outcome = "unchanged"
	Missing   Outcome = "missing"
	Conflict  Outcome = "conflict"
	Failed    Outcome = "failed"
)

// Change describes one source record and its fate on the destination.
type Change struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	SourceUID int     `json:"source_uid"`
	DestUID   int     `json:"dest_uid,omitempty"`
	OldCard   string  `json:"old_card,omitempty"`
	NewCard   string  `json:"new_card"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`

	dest models.Employee
}

// Report lists every source record carrying a card.
type Report struct {
	Changes []Change `json:"changes"`
	DryRun  bool     `json:"dry_run"`
}

// Count returns the number of changes with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, c := range r.Changes {
		if c.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any write failed.
func (r Report) Failed() bool {
	return r.Count(Failed) > 0
}

// Options tune a sync run.
type Options struct {
	Match  Match
	DryRun bool
}

func normCard(c string) string {
	return strings.TrimSpace(c)
}

// Plan pairs the records without touching any terminal. Updates come back
// with outcome Planned.
//
// The first source record for a key wins and later ones are conflicts. A
// card already held by another destination record is a conflict too.
func Plan(source, dest []models.Employee, match Match) Report {
	if match == "" {
		match = MatchUserID
	}

	byKey := make(map[string]models.Employee, len(dest))
	holder := make(map[string]int, len(dest))
	for _, d := range dest {
		if k := match.key(d); k != "" {
			if _, dup := byKey[k]; !dup {
				byKey[k] = d
			}
		}
		if d.HasCard() {
			holder[normCard(d.Card)] = d.UID
		}
	}

	var r Report
	seen := make(map[string]int)
	for _, s := range source {
		if !s.HasCard() {
			continue
		}
		c := Change{
			Key:       match.key(s),
			Name:      s.Name,
			SourceUID: s.UID,
			NewCard:   normCard(s.Card),
		}
		if c.Key == "" {
			continue
		}

		if first, dup := seen[c.Key]; dup {
			c.Outcome = Conflict
			c.Reason = fmt.Sprintf("key already used by source uid %d", first)
			r.Changes = append(r.Changes, c)
			continue
		}
		seen[c.Key] = s.UID

		d, ok := byKey[c.Key]
		if !ok {
			c.Outcome = Missing
			r.Changes = append(r.Changes, c)
			continue
		}
		c.DestUID = d.UID
		c.OldCard = d.Card

		switch uid, held := holder[c.NewCard]; {
		case d.HasCard() && normCard(d.Card) == c.NewCard:
			c.Outcome = Unchanged
		case held && uid != d.UID:
			c.Outcome = Conflict
			c.Reason = fmt.Sprintf("card already assigned to destination uid %d", uid)
		default:
			c.Outcome = Planned
			if d.HasCard() {
				delete(holder, normCard(d.Card))
			}
			holder[c.NewCard] = d.UID
			d.Card = c.NewCard
			c.dest = d
		}
		r.Changes = append(r.Changes, c)
	}
	return r
}

// Sync reads both terminals and writes the planned card changes to dst.
// Write failures are recorded in the report and do not stop the run; only
// failing to read a terminal returns an error.
func Sync(ctx context.Context, d terminal.Dialer, src, dst models.Terminal, opts Options) (Report, error) {
	log := zerolog.Ctx(ctx)

	var source []models.Employee
	err := terminal.With(ctx, d, src, func(s terminal.Session) error {
		var err error
		source, err = s.ListUsers(ctx)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("read source: %w", err)
	}

	var report Report
	err = terminal.With(ctx, d, dst, func(s terminal.Session) error {
		dest, err := s.ListUsers(ctx)
		if err != nil {
			return err
		}
		report = Plan(source, dest, opts.Match)
		report.DryRun = opts.DryRun
		if opts.DryRun {
			return nil
		}

		for i := range report.Changes {
			c := &report.Changes[i]
			if c.Outcome != Planned {
				continue
			}
			if err := s.SetUser(ctx, c.dest); err != nil {
				c.Outcome = Failed
				c.Reason = err.Error()
				log.Error().Err(err).Str("key", c.Key).Int("uid", c.DestUID).Msg("card update failed")
				continue
			}
			c.Outcome = Updated
			log.Info().Str("key", c.Key).Int("uid", c.DestUID).Str("card", c.NewCard).Msg("card updated")
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("sync destination: %w", err)
	}
	return report, nil
}

// ErrUserNotFound is returned by UpdateCard when no record has the user id.
var ErrUserNotFound = errors.New("user not found")

// UpdateCard sets the card of the record with userID on t. It reports false
// without writing when the card is already the same.
func UpdateCard(ctx context.Context, d terminal.Dialer, t models.Terminal, userID, card string) (bool, error) {
	userID = strings.TrimSpace(userID)
	card = normCard(card)

	var changed bool
	err := terminal.With(ctx, d, t, func(s terminal.Session) error {
		users, err := s.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			if strings.TrimSpace(u.UserID) != userID {
				continue
			}
			if normCard(u.Card) == card {
				return nil
			}
			u.Card = card
			if err := s.SetUser(ctx, u); err != nil {
				return err
			}
			changed = true
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	})
	return changed, err
}
