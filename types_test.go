package paypalexpress

import "testing"

func TestPropertiesFromMapIsStable(t *testing.T) {
	props := PropertiesFromMap(map[string]string{
		"order_id": "1234",
		"amount":   "100",
		"currency": "USD",
	})

	// Sorted by key, so repeated calls produce the same bag.
	wantOrder := []string{"amount", "currency", "order_id"}
	if len(props) != len(wantOrder) {
		t.Fatalf("expected %d properties, got %d", len(wantOrder), len(props))
	}
	for i, key := range wantOrder {
		if props[i].Key != key {
			t.Errorf("position %d: expected %s, got %s", i, key, props[i].Key)
		}
	}
}

func TestFindProperty(t *testing.T) {
	props := []Property{
		{Key: "token", Value: "EC-1"},
		{Key: "empty", Value: ""},
	}

	if v, ok := FindProperty(props, "token"); !ok || v != "EC-1" {
		t.Errorf("expected EC-1, got %q (present=%v)", v, ok)
	}
	// Present-but-empty is distinct from absent.
	if _, ok := FindProperty(props, "empty"); !ok {
		t.Error("expected empty to be present")
	}
	if _, ok := FindProperty(props, "missing"); ok {
		t.Error("expected missing to be absent")
	}
}
