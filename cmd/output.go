package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v2"

	"grimm.is/tether/internal/i18n"
	"grimm.is/tether/internal/lock"
)

// writeStructured renders v as JSON or YAML. It reports false for the text
// format, which each command renders itself.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return true, err
	}
	return false, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// reportHolder explains a lock conflict in the operator's language.
func reportHolder(w io.Writer, err error) {
	var ce *lock.ConflictError
	if !errors.As(err, &ce) || ce.Holder == nil || ce.Holder.TxID == "" {
		return
	}
	Printer.Fprintf(w, i18n.MsgLockHeldBy, ce.Target, ce.Holder.TxID, ce.Holder.CreatedAt.Local().Format(time.RFC3339))
}
