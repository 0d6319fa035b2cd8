package facts

import "testing"

func TestSchemaRegistry_ValidateUnregisteredTypePasses(t *testing.T) {
	r := NewSchemaRegistry()
	if err := r.Validate("Unregistered", map[string]FieldValue{"anything": 1}); err != nil {
		t.Fatalf("unregistered type should pass validation, got: %v", err)
	}
}

func TestSchemaRegistry_RegisterAndValidate(t *testing.T) {
	r := NewSchemaRegistry()
	schema := `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"wordCount": {"type": "integer", "minimum": 0}
		},
		"required": ["title"]
	}`
	if err := r.Register("Blog.Post", schema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Validate("Blog.Post", map[string]FieldValue{"title": "hello", "wordCount": 3}); err != nil {
		t.Fatalf("expected valid fields to pass, got: %v", err)
	}

	if err := r.Validate("Blog.Post", map[string]FieldValue{"wordCount": 3}); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}

	if err := r.Validate("Blog.Post", map[string]FieldValue{"title": "hi", "wordCount": -1}); err == nil {
		t.Fatal("expected out-of-range field to fail validation")
	}
}

func TestSchemaRegistry_NewValidated(t *testing.T) {
	r := NewSchemaRegistry()
	if err := r.Register("Blog.Post", `{"type":"object","required":["title"]}`); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.NewValidated("Blog.Post", map[string]FieldValue{}, nil); err == nil {
		t.Fatal("expected invalid fields to be rejected before New is reached")
	}

	f, err := r.NewValidated("Blog.Post", map[string]FieldValue{"title": "hello"}, nil)
	if err != nil {
		t.Fatalf("NewValidated: %v", err)
	}
	if f.Type != "Blog.Post" {
		t.Fatalf("unexpected fact type: %s", f.Type)
	}
}

func TestSchemaRegistry_ReRegisterReplacesSchema(t *testing.T) {
	r := NewSchemaRegistry()
	if err := r.Register("Widget", `{"type":"object","required":["a"]}`); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("Widget", `{"type":"object","required":["b"]}`); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate("Widget", map[string]FieldValue{"a": 1}); err == nil {
		t.Fatal("expected replaced schema to require b, not a")
	}
	if err := r.Validate("Widget", map[string]FieldValue{"b": 1}); err != nil {
		t.Fatalf("expected replaced schema to accept b, got: %v", err)
	}
}
