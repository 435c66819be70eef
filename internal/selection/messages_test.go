package selection

import (
	"testing"

	"golang.org/x/text/language"
)

func TestLocalizerNoticeTexts(t *testing.T) {
	l := NewLocalizer()

	cases := []struct {
		locale string
		notice Notice
		want   string
	}{
		{
			locale: "en",
			notice: Notice{Kind: NoticeBelowMinimum, Total: 1, Limit: 2},
			want:   "You selected 1 items. Select at least 2 to continue.",
		},
		{
			locale: "it-IT",
			notice: Notice{Kind: NoticeBelowMinimum, Total: 1, Limit: 2},
			want:   "Hai selezionato 1 prodotti. Devi selezionare almeno 2 prodotti per procedere.",
		},
		{
			locale: "it",
			notice: Notice{Kind: NoticeAboveMaximum, Total: 6, Limit: 5},
			want:   "Hai selezionato 6 prodotti. Il massimo consentito è 5.",
		},
		{
			locale: "it",
			notice: Notice{Kind: NoticeAddExceedsMaximum, Total: 6, Limit: 5},
			want:   "La quantità totale non può superare 5.",
		},
		{
			locale: "ja-JP",
			notice: Notice{Kind: NoticeAddExceedsMaximum, Limit: 3},
			want:   "合計数量は 3 を超えられません。",
		},
	}
	for _, tc := range cases {
		if got := l.Notice(tc.locale, tc.notice); got != tc.want {
			t.Fatalf("%s %s: expected %q, got %q", tc.locale, tc.notice.Kind, tc.want, got)
		}
	}
}

func TestLocalizerMatchFallsBack(t *testing.T) {
	l := NewLocalizer(WithDefaultLocale("it"))
	if tag := l.Match("", "zz-invalid-@@"); tag != language.Italian {
		t.Fatalf("expected italian fallback, got %s", tag)
	}
	if tag := l.Match("fr-FR;q=0.9, ja;q=0.8"); tag != language.Japanese {
		t.Fatalf("expected japanese from accept-language, got %s", tag)
	}
}

func TestLocalizerDisplayLabel(t *testing.T) {
	if got := NewLocalizer().DisplayLabel("en-US"); got != "Added options" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := NewLocalizer().DisplayLabel("it"); got != "Opzioni aggiunte" {
		t.Fatalf("unexpected italian label %q", got)
	}
	if got := NewLocalizer(WithDisplayLabel("Extras")).DisplayLabel("ja"); got != "Extras" {
		t.Fatalf("expected override label, got %q", got)
	}
}
