package courseware

import "html/template"

// Activecode is an editable, saveable program widget on a book page.
type Activecode struct {
	ID      string
	Caption string
	Code    string
}

// Section is either markdown prose or one activecode widget.
type Section struct {
	Markdown   string
	Activecode *Activecode
}

// BookPage is one page of the shared course book.
type BookPage struct {
	Title    string
	Sections []Section
}

// OverviewCode is the starting program of the overview page's editor.
const OverviewCode = "print(\"My first program adds two numbers, 2 and 3:\")\nprint(2 + 3)\n"

// Book holds the pages every course serves, keyed by file name.
var Book = map[string]BookPage{
	"index.html": {
		Title: "Table of Contents",
		Sections: []Section{
			{Markdown: `Welcome! This book is built from a **base course** and shared by everyone registered for it.

* [Overview](overview.html): what an interactive textbook can do
`},
		},
	},
	"overview.html": {
		Title: "This Is An Interactive Book",
		Sections: []Section{
			{Markdown: `## Activecode

Programs in this book can be edited in place. **Save** stores your version
on the server and **Load** brings back the last version you saved, from any
page load or device.`},
			{Activecode: &Activecode{ID: "codeexample1", Caption: "Your first program", Code: OverviewCode}},
			{Markdown: "Try changing `2 + 3` to another expression, save it, reload the page and load it again."},
		},
	},
}

type renderedSection struct {
	HTML       template.HTML
	Activecode *Activecode
}

func (r *Renderer) renderSections(p BookPage) []renderedSection {
	out := make([]renderedSection, 0, len(p.Sections))
	for _, s := range p.Sections {
		if s.Activecode != nil {
			out = append(out, renderedSection{Activecode: s.Activecode})
			continue
		}
		out = append(out, renderedSection{HTML: r.Markdown(s.Markdown)})
	}
	return out
}
