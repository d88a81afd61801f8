package shx

import (
	"context"
	"strings"

	"shx-go/internal/model"
)

// MoodQuery selects folder moods to report.
type MoodQuery struct {
	Path      string
	Recursive bool
	// Filter is a case-insensitive substring matched against value or name.
	Filter string
}

// MoodEntry is the mood in effect for a folder. Source differs from Folder
// when the mood is inherited from an enclosing folder.
type MoodEntry struct {
	Folder model.FileIdentity
	Source model.FileIdentity
	Mood   model.Mood
}

// Inherited reports whether the mood comes from an enclosing folder.
func (e MoodEntry) Inherited() bool {
	return e.Source.AbsPath != e.Folder.AbsPath
}

// MoodReport is the outcome of GetMoods.
type MoodReport struct {
	Root     string
	Entries  []MoodEntry
	Problems []error
}

// SetMood replaces the mood of a folder. Setting a value without a name
// clears any previous name.
func (s *Service) SetMood(ctx context.Context, path, value, name string) (*model.MoodRecord, error) {
	target, err := s.resolveDir(path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}

	mood, err := store.SetMood(target, value, name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, store); err != nil {
		return nil, err
	}
	s.logger.Info("mood set", "folder", target.AbsPath, "value", mood.Value, "name", mood.Name)
	return &model.MoodRecord{Identity: target, Mood: mood}, nil
}

// GetMoods reports the mood in effect for path. With Recursive it instead
// lists path and every folder below it that has its own mood.
func (s *Service) GetMoods(ctx context.Context, q MoodQuery) (*MoodReport, error) {
	target, err := s.resolveDir(q.Path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}
	report := &MoodReport{Root: store.Root()}

	if !q.Recursive {
		if rec, ok := store.MoodFor(target); ok && moodMatches(rec.Mood, q.Filter) {
			report.Entries = append(report.Entries, MoodEntry{Folder: target, Source: rec.Identity, Mood: rec.Mood})
		}
		return report, nil
	}

	dirs, err := s.collect(ctx, target.AbsPath, EnumerateOptions{
		Base:              store.Root(),
		IncludeDirs:       true,
		StopAtNestedRoots: true,
	}, &report.Problems)
	if err != nil {
		return nil, err
	}
	for _, id := range dirs {
		if !id.IsDir {
			continue
		}
		if store.Reconcile(id) {
			s.logger.Info("record followed rename", "path", id.AbsPath)
		}
		mood, ok := store.GetMood(id)
		if ok && moodMatches(mood, q.Filter) {
			report.Entries = append(report.Entries, MoodEntry{Folder: id, Source: id, Mood: mood})
		}
	}

	if err := s.commit(ctx, store); err != nil {
		s.logger.Warn("could not persist rebound records", "root", store.Root(), "error", err)
	}
	return report, nil
}

func moodMatches(m model.Mood, filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(m.Value), filter) ||
		strings.Contains(strings.ToLower(m.Name), filter)
}
