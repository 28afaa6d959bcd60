package messages

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/session"
)

func TestCatalogsComplete(t *testing.T) {
	for id := range catalog[DefaultLocale] {
		for locale, texts := range catalog {
			assert.NotEmptyf(t, texts[id], "%s missing %s", locale, id)
		}
	}
}

func TestParseLocale(t *testing.T) {
	assert.Equal(t, English, ParseLocale("EN"))
	assert.Equal(t, Arabic, ParseLocale("ar"))
	assert.Equal(t, Arabic, ParseLocale("fr"))
	assert.Equal(t, Arabic, ParseLocale(""))
}

func TestLocalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", api.ErrFineNotFound, "رقم قرار الحكم هذا غير مخزون في النظام"},
		{"connection", fmt.Errorf("%w: dial tcp", api.ErrConnection), "فشل الاتصال بالخادم، يرجى المحاولة لاحقًا."},
		{"code 400", &api.APIError{Status: 200, Codes: []string{"400"}}, "الرجاء التحقق من البيانات المدخلة"},
		{"code 404", &api.APIError{Status: 200, Codes: []string{"404"}}, "الاستمارة غير مخزونة في النظام، تأكد من الرقم المدخل"},
		{"status 500", &api.APIError{Status: 500}, "حدث خطأ في الخادم، يرجى المحاولة لاحقًا"},
		{"other code", &api.APIError{Status: 200, Codes: []string{"409"}}, "حدث خطأ غير متوقع، يرجى المحاولة مرة أخرى"},
		{"unauthorized", &api.APIError{Status: 401}, "انتهت صلاحية الجلسة، يرجى تسجيل الدخول"},
		{"no session", session.ErrNoSession, "يرجى تسجيل الدخول أولاً"},
		{"not streaming", capture.ErrNotStreaming, "الكاميرا غير متاحة"},
		{"unknown", errors.New("boom"), "حدث خطأ غير متوقع، يرجى المحاولة مرة أخرى"},
		{
			"form errors",
			api.FineForm{}.Validate(),
			"صورة السيارة الأصلية مطلوبة\nرقم قرار الحكم مطلوب",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Localize(Arabic, tt.err))
		})
	}
}

func TestLocalizeEnglish(t *testing.T) {
	assert.Equal(t, "This ruling decision number is not stored in the system", Localize(English, api.ErrFineNotFound))
	assert.Equal(t, "Failed to save cropped image: boom", SaveFailed(English, errors.New("boom")))
	assert.Equal(t, "تم حفظ الصورة بنجاح!", Get(Arabic, SaveSuccess))
	assert.Equal(t, "missing.id", Get(English, ID("missing.id")))
}
