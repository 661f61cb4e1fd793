package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Video represents a single stored blob for display.
type Video struct {
	ID         string
	Title      string
	Filename   string
	Length     int64
	UploadDate string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">"); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<head><meta charset=\"utf-8\">"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<style>body{font-family:sans-serif;margin:2rem;max-width:60rem}article{margin-bottom:2rem}video{max-width:100%;background:#000}small{color:#555}</style>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</head><body>"); err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// VideoCard renders one library entry with an inline player. The player
// issues range requests, which is the only read path the service supports.
func VideoCard(v Video) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<article>"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<h2>%s</h2>", html.EscapeString(v.Title)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w,
			"<small>%s &middot; %d bytes &middot; uploaded %s</small>",
			html.EscapeString(v.Filename), v.Length, html.EscapeString(v.UploadDate),
		); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w,
			"<video controls preload=\"metadata\" src=\"/video/%s\"></video>",
			html.EscapeString(v.ID),
		); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</article>")
		return err
	})
}

// LibraryPage renders the home page listing every stored video.
func LibraryPage(videos []Video) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<h1>Library</h1>"); err != nil {
			return err
		}

		if len(videos) == 0 {
			_, err := io.WriteString(w, "<p>No videos uploaded yet.</p>")
			return err
		}

		for _, v := range videos {
			if err := VideoCard(v).Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})

	return Layout("Library", body)
}
