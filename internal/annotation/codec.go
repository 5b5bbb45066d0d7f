package annotation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// The legacy AI-DONE payload packs the alternatives and the selected index
// into the last colon field of the annotation. The written form is versioned:
//
//	v1:<base64url(JSON)>
//
// Earlier files carried a bare base64 blob with no version marker; the
// decoder still accepts those and reports version 0. Both alphabets avoid
// ']' so the payload never terminates the annotation early.

const doneCodecVersion = 1

type doneRecord struct {
	Alts []string `json:"alts"`
	Sel  int      `json:"sel"`
}

func encodeDonePayload(alts []string, sel int) string {
	raw, err := json.Marshal(doneRecord{Alts: alts, Sel: sel})
	if err != nil {
		return ""
	}
	return fmt.Sprintf("v%d:%s", doneCodecVersion, base64.RawURLEncoding.EncodeToString(raw))
}

func decodeDonePayload(payload string) (alts []string, sel int, version int, err error) {
	blob := payload
	version = 0
	if rest, ok := strings.CutPrefix(payload, "v1:"); ok {
		blob = rest
		version = 1
	}

	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		// The unversioned writer used the standard alphabet with padding.
		raw, err = base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("decode done payload: %w", err)
		}
	}

	var rec doneRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, 0, 0, fmt.Errorf("unmarshal done payload: %w", err)
	}
	return rec.Alts, rec.Sel, version, nil
}
