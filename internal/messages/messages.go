// Package messages holds the operator-facing text. Arabic is the default
// locale.
package messages

import (
	"errors"
	"strings"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/session"
)

type Locale string

const (
	Arabic  Locale = "ar"
	English Locale = "en"

	DefaultLocale = Arabic
)

type ID string

const (
	SaveSuccess       ID = "save.success"
	SaveFailure       ID = "save.failure"
	ImageRequired     ID = "form.image_required"
	RulingRequired    ID = "form.ruling_required"
	FineCreated       ID = "fine.created"
	FineNotFound      ID = "fine.not_found"
	LookupBadRequest  ID = "lookup.400"
	LookupNotStored   ID = "lookup.404"
	LookupServerError ID = "lookup.500"
	Unexpected        ID = "error.unexpected"
	ConnectionFailed  ID = "error.connection"
	SessionExpired    ID = "error.session_expired"
	Forbidden         ID = "error.forbidden"
	LoginFailed       ID = "login.failed"
	NotLoggedIn       ID = "login.required"
	CameraUnavailable ID = "camera.unavailable"
	NotEditing        ID = "camera.not_editing"
	UserEnabled       ID = "user.enabled"
	UserDisabled      ID = "user.disabled"
	PasswordChanged   ID = "password.changed"
)

var catalog = map[Locale]map[ID]string{
	Arabic: {
		SaveSuccess:       "تم حفظ الصورة بنجاح!",
		SaveFailure:       "فشل في حفظ الصورة المقصوصة: ",
		ImageRequired:     "صورة السيارة الأصلية مطلوبة",
		RulingRequired:    "رقم قرار الحكم مطلوب",
		FineCreated:       "تم إنشاء الغرامة بنجاح",
		FineNotFound:      "رقم قرار الحكم هذا غير مخزون في النظام",
		LookupBadRequest:  "الرجاء التحقق من البيانات المدخلة",
		LookupNotStored:   "الاستمارة غير مخزونة في النظام، تأكد من الرقم المدخل",
		LookupServerError: "حدث خطأ في الخادم، يرجى المحاولة لاحقًا",
		Unexpected:        "حدث خطأ غير متوقع، يرجى المحاولة مرة أخرى",
		ConnectionFailed:  "فشل الاتصال بالخادم، يرجى المحاولة لاحقًا.",
		SessionExpired:    "انتهت صلاحية الجلسة، يرجى تسجيل الدخول",
		Forbidden:         "ليس لديك صلاحية لتنفيذ هذا الإجراء",
		LoginFailed:       "فشل في تسجيل الدخول",
		NotLoggedIn:       "يرجى تسجيل الدخول أولاً",
		CameraUnavailable: "الكاميرا غير متاحة",
		NotEditing:        "لا توجد صورة ملتقطة للقص",
		UserEnabled:       "تم تفعيل المستخدم",
		UserDisabled:      "تم تعطيل المستخدم",
		PasswordChanged:   "تم تغيير كلمة المرور بنجاح",
	},
	English: {
		SaveSuccess:       "Image saved successfully!",
		SaveFailure:       "Failed to save cropped image: ",
		ImageRequired:     "The vehicle image is required",
		RulingRequired:    "The ruling decision number is required",
		FineCreated:       "Fine created successfully",
		FineNotFound:      "This ruling decision number is not stored in the system",
		LookupBadRequest:  "Please check the entered data",
		LookupNotStored:   "The form is not stored in the system, check the entered number",
		LookupServerError: "Server error, please try again later",
		Unexpected:        "An unexpected error occurred, please try again",
		ConnectionFailed:  "Failed to connect to the server, please try again later.",
		SessionExpired:    "Session expired, please log in",
		Forbidden:         "You are not allowed to perform this action",
		LoginFailed:       "Login failed",
		NotLoggedIn:       "Please log in first",
		CameraUnavailable: "Camera unavailable",
		NotEditing:        "There is no captured image to crop",
		UserEnabled:       "User enabled",
		UserDisabled:      "User disabled",
		PasswordChanged:   "Password changed successfully",
	},
}

// ParseLocale falls back to the default for anything unknown.
func ParseLocale(s string) Locale {
	l := Locale(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[l]; ok {
		return l
	}
	return DefaultLocale
}

// Get returns the text for id, falling back to the default locale and then
// to the ID itself.
func Get(locale Locale, id ID) string {
	if text, ok := catalog[locale][id]; ok {
		return text
	}
	if text, ok := catalog[DefaultLocale][id]; ok {
		return text
	}
	return string(id)
}

// lookupCodes maps fine lookup error codes to messages.
var lookupCodes = map[string]ID{
	"400": LookupBadRequest,
	"404": LookupNotStored,
	"500": LookupServerError,
}

// Localize turns an error from the pipeline or the backend into operator
// text. Joined errors are rendered one per line.
func Localize(locale Locale, err error) string {
	if err == nil {
		return ""
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var lines []string
		for _, e := range joined.Unwrap() {
			lines = append(lines, Localize(locale, e))
		}
		return strings.Join(lines, "\n")
	}
	return Get(locale, classify(err))
}

func classify(err error) ID {
	switch {
	case errors.Is(err, api.ErrImageRequired):
		return ImageRequired
	case errors.Is(err, api.ErrRulingRequired):
		return RulingRequired
	case errors.Is(err, api.ErrFineNotFound):
		return FineNotFound
	case errors.Is(err, api.ErrConnection):
		return ConnectionFailed
	case errors.Is(err, api.ErrUnauthorized):
		return SessionExpired
	case errors.Is(err, api.ErrForbidden):
		return Forbidden
	case errors.Is(err, session.ErrNoSession):
		return NotLoggedIn
	case errors.Is(err, capture.ErrNotStreaming), errors.Is(err, capture.ErrDisabled):
		return CameraUnavailable
	case errors.Is(err, capture.ErrNotEditing):
		return NotEditing
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		if id, ok := lookupCodes[apiErr.Code()]; ok {
			return id
		}
	}
	return Unexpected
}

// SaveFailed renders the crop-save failure banner.
func SaveFailed(locale Locale, err error) string {
	return Get(locale, SaveFailure) + err.Error()
}
