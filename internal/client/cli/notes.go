package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// List prints the notes of the signed-in user, newest first.
func (a *App) List(ctx context.Context) error {
	list, err := a.notes.FetchNotes(ctx)
	if err != nil {
		return err
	}
	return a.printNotes(list, "No notes")
}

// Recent lists the most recently opened notes. An empty limit uses the
// service default.
func (a *App) Recent(ctx context.Context, limit string) error {
	n := 0
	if limit != "" {
		var err error
		if n, err = strconv.Atoi(limit); err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", limit)
		}
	}
	list, err := a.notes.RecentNotes(ctx, n)
	if err != nil {
		return err
	}
	return a.printNotes(list, "No recently opened notes")
}

func (a *App) Favorites(ctx context.Context) error {
	list, err := a.notes.FavoriteNotes(ctx)
	if err != nil {
		return err
	}
	return a.printNotes(list, "No favorite notes")
}

func (a *App) printNotes(list []models.Note, empty string) error {
	if len(list) == 0 {
		fmt.Fprintln(a.out, empty)
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tVERSION\tSYNC\tUPDATED")
	for _, n := range list {
		title := n.Title
		if n.IsFavorite {
			title = "* " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", n.ID, title, n.Version, n.SyncStatus,
			n.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// Show prints the note and records it as opened.
func (a *App) Show(ctx context.Context, id string) error {
	n, err := a.notes.MarkAccessed(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (v%d, %s)\n\n%s\n", n.Title, n.Version, n.SyncStatus, n.Content)
	return nil
}

func (a *App) Add(ctx context.Context) error {
	title, err := askLine(a.reader, "Title", a.out)
	if err != nil {
		return err
	}
	if title == "" {
		return fmt.Errorf("%w: title is required", common.ErrInvalidMutation)
	}
	content, err := askBody(a.reader, "Content", a.out)
	if err != nil {
		return err
	}

	res, err := a.notes.CreateNote(ctx, models.NoteInput{Title: title, Content: content})
	return a.report(ctx, res, err)
}

// Edit replaces title and content; empty answers keep the current values.
func (a *App) Edit(ctx context.Context, id string) error {
	n, err := a.notes.GetNote(ctx, id)
	if err != nil {
		return err
	}

	var patch models.NotePatch
	title, err := askLine(a.reader, fmt.Sprintf("Title [%s]", n.Title), a.out)
	if err != nil {
		return err
	}
	if title != "" {
		patch.Title = &title
	}
	content, err := askBody(a.reader, "Content (empty keeps the current text)", a.out)
	if err != nil {
		return err
	}
	if content != "" {
		patch.Content = &content
	}
	if patch.Title == nil && patch.Content == nil {
		fmt.Fprintln(a.out, "Nothing changed")
		return nil
	}

	res, err := a.notes.UpdateNote(ctx, id, patch)
	return a.report(ctx, res, err)
}

func (a *App) Delete(ctx context.Context, id string) error {
	res, err := a.notes.DeleteNote(ctx, id)
	return a.report(ctx, res, err)
}

func (a *App) Favorite(ctx context.Context, id string) error {
	res, err := a.notes.ToggleFavorite(ctx, id)
	return a.report(ctx, res, err)
}

func (a *App) Tag(ctx context.Context, name string) error {
	tag, err := a.tags.CreateTag(ctx, name, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Tag %s created (%s)\n", tag.Name, tag.ID)
	return nil
}

// report prints the outcome of a write. A write kept in the queue is a
// success for the user, so ErrUnavailable is not surfaced as an error.
func (a *App) report(ctx context.Context, res *models.SyncResult, err error) error {
	if err != nil && !errors.Is(err, common.ErrUnavailable) {
		return err
	}
	if err != nil {
		a.logger.Debug(ctx, "write queued", "error", err)
	}

	switch {
	case res == nil:
		fmt.Fprintln(a.out, "Saved")
	case res.Conflict != nil:
		fmt.Fprintf(a.out, "Conflict on %s: local v%d, remote v%d. Use 'resolve %s <local|remote|merge>'\n",
			res.Conflict.NoteID, res.Conflict.LocalVersion, res.Conflict.RemoteVersion, res.Conflict.NoteID)
	case res.Queued:
		fmt.Fprintln(a.out, "Saved locally, will sync when online")
	case res.Note != nil:
		fmt.Fprintf(a.out, "Saved %s (v%d)\n", res.Note.ID, res.Note.Version)
	default:
		fmt.Fprintln(a.out, "Saved")
	}
	return nil
}
