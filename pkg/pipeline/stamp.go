package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Every persisted artifact except the source itself starts with a stamp
// line naming the source and options it was computed from. Writes to the
// backend are not atomic, so on load an artifact whose stamp does not
// match the stored source is treated as missing.

var stampPrefix = []byte("gocompile ")

// fingerprint identifies a source text together with every option that
// changes what the stages produce.
func fingerprint(code string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "registers=%d padding=%t steps=%d iterations=%d\x00",
		opts.Registers, !opts.NoPadding, opts.MaxSteps, opts.OptimizerIterations)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func stamp(fp string, data []byte) []byte {
	out := make([]byte, 0, len(stampPrefix)+len(fp)+1+len(data))
	out = append(out, stampPrefix...)
	out = append(out, fp...)
	out = append(out, '\n')
	return append(out, data...)
}

// unstamp returns the payload of a stamped value when it was computed from
// fp.
func unstamp(fp string, data []byte) ([]byte, error) {
	header, payload, ok := bytes.Cut(data, []byte("\n"))
	if !ok || !bytes.HasPrefix(header, stampPrefix) {
		return nil, fmt.Errorf("not stamped")
	}
	if got := string(header[len(stampPrefix):]); got != fp {
		return nil, fmt.Errorf("computed from another source (%.12s, want %.12s)", got, fp)
	}
	return payload, nil
}
