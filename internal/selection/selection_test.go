package selection

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

const selectedRow = `tr class="o_data_row o_row_draggable o_data_row_selected"`

func page(rows ...string) string {
	return `<html><body><div class="o_list_renderer"><table class="o_list_table"><tbody>` +
		strings.Join(rows, "") +
		`</tbody></table></div></body></html>`
}

func row(class, id, barcode string) string {
	var sb strings.Builder
	sb.WriteString(`<tr class="` + class + `">`)
	sb.WriteString(`<td class="o_list_record_selector"><input type="checkbox"/></td>`)
	if id != "-" {
		sb.WriteString(`<td class="o_data_cell" name="id">` + id + `</td>`)
	}
	sb.WriteString(`<td class="o_data_cell" name="name">Chair</td>`)
	if barcode != "-" {
		sb.WriteString(`<td class="o_data_cell" name="barcode">` + barcode + `</td>`)
	}
	sb.WriteString(`</tr>`)
	return sb.String()
}

const (
	selected   = "o_data_row o_row_draggable o_data_row_selected"
	selectedTI = "o_data_row o_row_draggable table-info o_data_row_selected"
	unselected = "o_data_row o_row_draggable"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    []types.ProductRef
		wantErr error
	}{
		{
			name: "single selected row",
			html: page(row(selected, "12", "8690000000017")),
			want: []types.ProductRef{{ID: "12", Label: "8690000000017"}},
		},
		{
			name: "document order and unselected rows ignored",
			html: page(
				row(selected, "3", "B3"),
				row(unselected, "4", "B4"),
				row(selectedTI, "1", "B1"),
			),
			want: []types.ProductRef{{ID: "3", Label: "B3"}, {ID: "1", Label: "B1"}},
		},
		{
			name: "missing barcode column leaves label empty",
			html: page(row(selected, "7", "-")),
			want: []types.ProductRef{{ID: "7"}},
		},
		{
			name: "blank barcode leaves label empty",
			html: page(row(selected, "7", "   ")),
			want: []types.ProductRef{{ID: "7"}},
		},
		{
			name: "whitespace around cell text is trimmed",
			html: page(row(selected, "\n  9 \n", " <span>ABC</span>\n")),
			want: []types.ProductRef{{ID: "9", Label: "ABC"}},
		},
		{
			name: "inline markup inside cells does not split text",
			html: page(row(selected, "4<b>2</b>", "AB<span>-1</span>")),
			want: []types.ProductRef{{ID: "42", Label: "AB-1"}},
		},
		{
			name: "empty id cells are skipped",
			html: page(row(selected, "", "X"), row(selected, "5", "Y")),
			want: []types.ProductRef{{ID: "5", Label: "Y"}},
		},
		{
			name:    "no selection",
			html:    page(row(unselected, "1", "A")),
			wantErr: ErrNoSelection,
		},
		{
			name:    "only empty ids",
			html:    page(row(selected, "", "A")),
			wantErr: ErrNoSelection,
		},
		{
			name:    "id column hidden in one row",
			html:    page(row(selected, "1", "A"), row(selected, "-", "B")),
			wantErr: ErrMissingIDColumn,
		},
		{
			name:    "row missing a required class",
			html:    page(row("o_data_row o_data_row_selected", "1", "A")),
			wantErr: ErrNoSelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(strings.NewReader(tt.html), DefaultColumns())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextOf(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"plain", `<div>hello</div>`, "hello"},
		{"inline siblings join", `<div>4<b>2</b><i>0</i></div>`, "420"},
		{"line break separates", `<div>first<br>second</div>`, "first second"},
		{"block children separate", `<div><p>one</p><p>two</p></div>`, "one two"},
		{"whitespace collapses", "<div>  a \n\t b  </div>", "a b"},
		{"script skipped", `<div>x<script>var y = 1</script>z</div>`, "xz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader(tt.html))
			require.NoError(t, err)
			div := findFirst(doc, func(n *html.Node) bool {
				return n.Type == html.ElementNode && n.Data == "div"
			})
			require.NotNil(t, div)
			assert.Equal(t, tt.want, textOf(div))
		})
	}
}

func TestExtract_LabelFallsBackToID(t *testing.T) {
	refs, err := Extract(strings.NewReader(page(row(selected, "44", ""))), DefaultColumns())
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "44", refs[0].Name())
}

func TestExtract_CustomColumns(t *testing.T) {
	doc := page(`<` + selectedRow + `><td name="x_ref">10</td><td name="default_code">SKU-10</td></tr>`)

	refs, err := Extract(strings.NewReader(doc), Columns{ID: "x_ref", Label: "default_code"})
	require.NoError(t, err)
	assert.Equal(t, []types.ProductRef{{ID: "10", Label: "SKU-10"}}, refs)

	_, err = Extract(strings.NewReader(doc), DefaultColumns())
	assert.True(t, errors.Is(err, ErrMissingIDColumn))
}

func TestExtract_EmptyColumnsUseDefaults(t *testing.T) {
	refs, err := Extract(strings.NewReader(page(row(selected, "2", "B"))), Columns{})
	require.NoError(t, err)
	assert.Equal(t, []types.ProductRef{{ID: "2", Label: "B"}}, refs)
}

func TestParseRefs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []types.ProductRef
		wantErr error
	}{
		{
			name: "ids and labels",
			args: []string{"1", "2:869000", " 3 : abc "},
			want: []types.ProductRef{{ID: "1"}, {ID: "2", Label: "869000"}, {ID: "3", Label: "abc"}},
		},
		{
			name: "label keeps extra colons",
			args: []string{"4:a:b"},
			want: []types.ProductRef{{ID: "4", Label: "a:b"}},
		},
		{
			name: "blank tokens ignored",
			args: []string{"", "  ", "5"},
			want: []types.ProductRef{{ID: "5"}},
		},
		{
			name:    "nothing given",
			args:    nil,
			wantErr: ErrNoSelection,
		},
		{
			name:    "label without id",
			args:    []string{":abc"},
			wantErr: ErrInvalidRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRefs(tt.args)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
