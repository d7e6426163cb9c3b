package console

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vbonduro/stockscan/internal/adjust"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/scanner"
	"github.com/vbonduro/stockscan/internal/station"
)

const (
	clearScreen = "\x1b[H\x1b[2J"
	bold        = "\x1b[1m"
	dim         = "\x1b[2m"
	red         = "\x1b[31m"
	green       = "\x1b[32m"
	reset       = "\x1b[0m"
	newline     = "\r\n"
)

// screen collects lines for one frame. Raw terminals need CRLF.
type screen struct {
	b strings.Builder
}

func (s *screen) line(format string, args ...any) {
	fmt.Fprintf(&s.b, format, args...)
	s.b.WriteString(newline)
}

func (s *screen) blank() {
	s.b.WriteString(newline)
}

func (s *screen) flush(w io.Writer) error {
	_, err := io.WriteString(w, clearScreen+s.b.String())
	return err
}

func renderIdle(s *screen, snap station.Snapshot, m menuState) {
	s.line("%sStock scanning station%s", bold, reset)
	s.blank()
	if snap.Notice != "" {
		s.line("%s%s%s", green, snap.Notice, reset)
		s.blank()
	}
	s.line("  s  scan barcodes")
	s.line("  i  adjust an item by id")
	s.line("  q  quit")
	if m.enteringID {
		s.blank()
		s.line("Item id: %s_", m.id)
	}
	if snap.Pending {
		s.blank()
		s.line("%sLooking up item...%s", dim, reset)
	}
}

func renderScanner(s *screen, snap station.Snapshot) {
	v := snap.Scanner
	s.line("%sScan a barcode%s   %s(Esc to stop)%s", bold, reset, dim, reset)
	s.blank()
	if v.Status == scanner.StatusError {
		s.line("%s%s%s", red, v.Message, reset)
	} else {
		s.line("%s", v.Message)
	}
	s.blank()
	s.line("> %s", v.Buffer)
	if snap.Notice != "" {
		s.blank()
		s.line("%s%s%s", green, snap.Notice, reset)
	}
}

func renderForm(s *screen, snap station.Snapshot, focus formField) {
	v := snap.Adjustment
	item := v.Item
	s.line("%sAdjust stock%s  %s", bold, reset, item.Name)
	s.line("Current quantity: %g %s", item.CurrentQuantity, item.UnitName)
	s.blank()

	switch v.Draft.Direction {
	case adjust.DirectionNone:
		s.line("a  add stock     r  remove stock     Esc  cancel")
		fieldError(s, v.Errors, adjust.FieldDirection)
		return
	case adjust.DirectionAdd:
		s.line("%sAdding stock%s  %s(Ctrl-R to remove instead)%s", green, reset, dim, reset)
	case adjust.DirectionRemove:
		s.line("%sRemoving stock%s  %s(Ctrl-A to add instead)%s", red, reset, dim, reset)
	}
	s.blank()

	for _, f := range fieldsFor(v.Draft.Direction) {
		marker := "  "
		if f == focus {
			marker = "> "
		}
		switch f {
		case fieldQuantity:
			s.line("%sQuantity:    %s", marker, v.Draft.Quantity)
			fieldError(s, v.Errors, adjust.FieldQuantity)
		case fieldProvider:
			s.line("%sProvider:    %s", marker, listValue(v.Providers, v.Draft.ProviderID, providerName))
			fieldError(s, v.Errors, adjust.FieldProvider)
		case fieldCost:
			s.line("%sUnit cost:   %s", marker, v.Draft.UnitCost)
			fieldError(s, v.Errors, adjust.FieldCost)
		case fieldDestination:
			s.line("%sDestination: %s", marker, listValue(v.Destinations, v.Draft.DestinationID, destinationName))
			fieldError(s, v.Errors, adjust.FieldDestination)
		case fieldPerson:
			s.line("%sPerson:      %s", marker, v.Draft.PersonName)
		}
	}

	s.blank()
	fieldError(s, v.Errors, adjust.FieldAPI)
	if v.Submitting {
		s.line("%sSaving...%s", dim, reset)
		return
	}
	s.line("%sTab next field, arrows pick from a list, Enter on the last field saves, Esc cancels%s", dim, reset)
}

func fieldError(s *screen, errs adjust.FieldErrors, f adjust.Field) {
	if msg, ok := errs[f]; ok {
		s.line("    %s%s%s", red, msg, reset)
	}
}

func providerName(p domain.Provider) (int64, string)       { return p.ID, p.Name }
func destinationName(d domain.Destination) (int64, string) { return d.ID, d.Name }

func listValue[T any](list adjust.RefList[T], selected *int64, entry func(T) (int64, string)) string {
	switch list.State {
	case adjust.ListLoading:
		return dim + "loading..." + reset
	case adjust.ListFailed:
		return red + list.Error + reset
	}
	if len(list.Items) == 0 {
		return dim + "none available" + reset
	}
	if selected == nil {
		return dim + "choose with left/right" + reset
	}
	for _, item := range list.Items {
		if id, name := entry(item); id == *selected {
			return fmt.Sprintf("< %s >", name)
		}
	}
	return fmt.Sprintf("#%d", *selected)
}

// describeErrors renders field errors in a stable order for log lines.
func describeErrors(errs adjust.FieldErrors) string {
	keys := make([]string, 0, len(errs))
	for f, msg := range errs {
		keys = append(keys, fmt.Sprintf("%s=%q", f, msg))
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}
