// Package i18n holds the user-facing message catalog.
package i18n

import "fmt"

// Texts is the full message set for one language.
type Texts struct {
	Start              string
	Processing         string
	GenerationError    string
	NotAnImage         string
	PaymentTitle       string
	PaymentDescription string
	PaymentLabel       string
	PaymentAccepted    string
	PhotoReady         string
	PayButton          string
}

var catalog = map[string]Texts{
	"en": {
		Start:              "Hi! Send me an old or damaged photo and I will restore and colorize it.",
		Processing:         "Working on your photo, this can take a minute...",
		GenerationError:    "Something went wrong while restoring the photo. Please try again later.",
		NotAnImage:         "Please send a photo or an image file (JPEG or PNG).",
		PaymentTitle:       "Photo restoration",
		PaymentDescription: "Restore and colorize one photo",
		PaymentLabel:       "Restoration",
		PaymentAccepted:    "Payment received! Working on your photo...",
		PhotoReady:         "Here is your restored photo!",
		PayButton:          "Pay %d ⭐",
	},
	"ru": {
		Start:              "Привет! Отправьте мне старое или повреждённое фото, и я восстановлю и раскрашу его.",
		Processing:         "Обрабатываю фото, это может занять минуту...",
		GenerationError:    "Не удалось восстановить фото. Попробуйте ещё раз позже.",
		NotAnImage:         "Пожалуйста, отправьте фотографию или файл изображения (JPEG или PNG).",
		PaymentTitle:       "Реставрация фото",
		PaymentDescription: "Восстановить и раскрасить одно фото",
		PaymentLabel:       "Реставрация",
		PaymentAccepted:    "Оплата получена! Обрабатываю фото...",
		PhotoReady:         "Ваше восстановленное фото готово!",
		PayButton:          "Оплатить %d ⭐",
	},
	"kk": {
		Start:              "Сәлем! Маған ескі немесе зақымдалған фотоны жіберіңіз, мен оны қалпына келтіріп, бояймын.",
		Processing:         "Фото өңделуде, бұл бір минутқа созылуы мүмкін...",
		GenerationError:    "Фотоны қалпына келтіру сәтсіз аяқталды. Кейінірек қайталап көріңіз.",
		NotAnImage:         "Фотосурет немесе сурет файлын жіберіңіз (JPEG немесе PNG).",
		PaymentTitle:       "Фотоны қалпына келтіру",
		PaymentDescription: "Бір фотоны қалпына келтіру және бояу",
		PaymentLabel:       "Қалпына келтіру",
		PaymentAccepted:    "Төлем қабылданды! Фото өңделуде...",
		PhotoReady:         "Қалпына келтірілген фотоңыз дайын!",
		PayButton:          "%d ⭐ төлеу",
	},
}

// PayButtonLabel renders the pay button caption for a price in stars.
func (t Texts) PayButtonLabel(amount int) string {
	return fmt.Sprintf(t.PayButton, amount)
}

// Get returns the catalog for a language code, defaulting to English.
func Get(lang string) Texts {
	if t, ok := catalog[lang]; ok {
		return t
	}
	return catalog["en"]
}
