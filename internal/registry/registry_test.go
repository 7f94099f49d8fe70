package registry

import (
	"testing"

	"github.com/onchainlabs1/sentinel/internal/models"
)

func TestRegistryPutGetUpdate(t *testing.T) {
	r := New()

	r.Put(models.Incident{ID: "inc-1", Status: models.StatusNew, Tier: 1})

	inc, ok := r.Get("inc-1")
	if !ok || inc.Status != models.StatusNew {
		t.Fatalf("unexpected incident: %+v ok=%v", inc, ok)
	}

	// Mutating the returned copy must not leak into the registry.
	inc.Status = models.StatusError
	stored, _ := r.Get("inc-1")
	if stored.Status != models.StatusNew {
		t.Fatalf("registry copy was mutated externally")
	}

	if !r.Update("inc-1", func(i *models.Incident) { i.Tier = 2 }) {
		t.Fatalf("update should find the incident")
	}
	updated, _ := r.Get("inc-1")
	if updated.Tier != 2 {
		t.Fatalf("update not applied: %+v", updated)
	}

	if r.Update("absent", func(i *models.Incident) {}) {
		t.Fatalf("update on unknown id should report false")
	}
}

func TestRegistryActive(t *testing.T) {
	r := New()
	r.Put(models.Incident{ID: "a", Status: models.StatusNew})
	r.Put(models.Incident{ID: "b", Status: models.StatusDocumented})
	r.Put(models.Incident{ID: "c", Status: models.StatusError})

	active := r.Active()
	if len(active) != 1 || active[0].ID != "a" {
		t.Fatalf("unexpected active set: %+v", active)
	}

	r.Remove("a")
	if r.Len() != 2 {
		t.Fatalf("expected 2 incidents after remove, got %d", r.Len())
	}
}
