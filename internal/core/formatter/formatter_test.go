package formatter

import "testing"

func TestRender_DefaultTemplate(t *testing.T) {
	t.Parallel()

	proxy := map[string]any{"name": "node-A", "type": "ss"}
	api := map[string]any{"country": "日本", "isp": "Example ISP"}

	got, err := Render("{{api.country}} {{api.isp}} - {{proxy.name}}", proxy, api)
	if err != nil {
		t.Fatalf("Render() returned an error: %v", err)
	}
	if want := "日本 Example ISP - node-A"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRender_UndefinedFields(t *testing.T) {
	t.Parallel()

	got, err := Render("{{api.city}}|{{nope.x}}|{{api.nested.deep}}|{{proxy.name}}", map[string]any{}, map[string]any{})
	if err != nil {
		t.Fatalf("Render() returned an error: %v", err)
	}
	if want := "undefined|undefined|undefined|undefined"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRender_IndexAccessAndFlags(t *testing.T) {
	t.Parallel()

	proxy := map[string]any{
		"name":    "hk-01",
		"tags":    []any{"fast", "cheap"},
		"ws-opts": map[string]any{"path": "/ray"},
	}
	api := map[string]any{"countryCode": "HK", "lat": 22.25, "as": float64(4134), "ok": true, "none": nil}

	cases := map[string]string{
		"{{country_emojis_dict[api.countryCode]}} - {{proxy.name}}": "🇭🇰 - hk-01",
		"{{flags['JP']}}":                                           "🇯🇵",
		"{{proxy.tags[1]}}":                                         "cheap",
		"{{proxy.tags}}":                                            "fast,cheap",
		"{{proxy.tags.length}}":                                     "2",
		"{{proxy['ws-opts'].path}}":                                 "/ray",
		"{{proxy[\"ws-opts\"][\"path\"]}}":                          "/ray",
		"{{api.lat}}/{{api.as}}":                                    "22.25/4134",
		"{{api.ok}} {{api.none}}":                                   "true null",
		"{{proxy['ws-opts']}}":                                      "[object Object]",
		"{{ api.countryCode }}":                                     "HK",
		"{{country_emojis_dict['XX']}}":                             "undefined",
		"{{proxy.name[0]}}":                                         "h",
	}
	for src, want := range cases {
		got, err := Render(src, proxy, api)
		if err != nil {
			t.Errorf("%s: Render() returned an error: %v", src, err)
			continue
		}
		if got != want {
			t.Errorf("%s: Expected %q, got %q", src, want, got)
		}
	}
}

func TestCompile_LiteralText(t *testing.T) {
	t.Parallel()

	tpl, err := Compile("plain {{ unterminated")
	if err != nil {
		t.Fatalf("Compile() returned an error: %v", err)
	}
	if got := tpl.Render(nil, nil); got != "plain {{ unterminated" {
		t.Errorf("Expected literal text to survive, got %q", got)
	}
}

func TestCompile_RejectsCode(t *testing.T) {
	t.Parallel()

	bad := []string{
		"{{}}",
		"{{api.country + 1}}",
		"{{process.exit()}}",
		"{{api[}}",
		"{{api.'x'}}",
		"{{'open}}",
	}
	for _, src := range bad {
		if _, err := Compile(src); err == nil {
			t.Errorf("%s: expected compile error", src)
		}
	}
}

func TestCountryFlags_Table(t *testing.T) {
	t.Parallel()

	if got := CountryFlags["US"]; got != "🇺🇸" {
		t.Errorf("Expected US flag, got %v", got)
	}
	if _, ok := CountryFlags["ZZ"]; ok {
		t.Errorf("ZZ must not be in the flag table")
	}
}
