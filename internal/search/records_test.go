package search

import (
	"strings"
	"testing"
)

func TestAnnotationRecords(t *testing.T) {
	content := `Una [!TODO:frase:1:troppo piatta] e un [!NOTE{"text":"inciso","note":"forse tagliare"}] qui.`

	records := AnnotationRecords("chk_1", "doc_1", content)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Meilisearch document ids allow only alphanumerics, '-' and '_', so
	// per-annotation ids must stay within that alphabet.
	if records[0].ID != "chk_1_0" || records[1].ID != "chk_1_1" {
		t.Fatalf("unexpected ids: %s, %s", records[0].ID, records[1].ID)
	}
	for _, r := range records {
		if strings.ContainsAny(r.ID, "#:/ ") {
			t.Fatalf("id %q contains characters rejected by the index", r.ID)
		}
	}
	if records[0].Kind != "TODO" || records[0].SelectedText != "frase" || records[0].Comment != "troppo piatta" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Kind != "NOTE" || records[1].SelectedText != "inciso" || records[1].Comment != "forse tagliare" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestAnnotationRecordsPlainContent(t *testing.T) {
	if records := AnnotationRecords("chk_1", "doc_1", "no markup here"); len(records) != 0 {
		t.Fatalf("expected no records, got %v", records)
	}
}
