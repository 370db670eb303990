package email

import (
	"fmt"
	"strings"
)

// Kind identifies an email flow.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindDeleteAccount Kind = "delete_account"
)

// ParseKind accepts a kind or an "emails:<kind>" job name.
func ParseKind(raw string) (Kind, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "emails:")
	switch Kind(raw) {
	case KindVerification, KindPasswordReset, KindDeleteAccount:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("unknown email kind %q", raw)
	}
}

// path is the frontend route the link points to.
func (k Kind) path() string {
	switch k {
	case KindPasswordReset:
		return "/reset-password"
	case KindDeleteAccount:
		return "/delete-confirmation"
	default:
		return "/confirmation"
	}
}

var subjects = map[Kind]map[string]string{
	KindVerification: {
		"en": "Confirm Your Email",
		"it": "Conferma la tua email",
		"fr": "Vérifier ton adresse e-mail",
		"es": "Verificar tu correo electrónico",
		"de": "E-Mail bestätigen",
		"pt": "Confirmar seu e-mail",
		"ru": "Подтвердить адрес электронной почты",
		"zh": "确认您的邮箱",
		"ja": "メールアドレスを確認する",
		"hi": "अपना ईमेल सत्यापित करें",
	},
	KindPasswordReset: {
		"en": "Reset Your Password",
		"it": "Ripristina la tua password",
		"fr": "Réinitialiser ton mot de passe",
		"es": "Restablecer tu contraseña",
		"de": "Passwort zurücksetzen",
		"pt": "Redefinir sua senha",
		"ru": "Сбросить пароль",
		"zh": "重置您的密码",
		"ja": "パスワードをリセットする",
		"hi": "अपना पासवर्ड रीसेट करें",
	},
	KindDeleteAccount: {
		"en": "Delete Your Account",
		"it": "Elimina il tuo Account",
		"fr": "Supprimer ton compte",
		"es": "Eliminar tu cuenta",
		"de": "Konto löschen",
		"pt": "Excluir sua conta",
		"ru": "Удалить аккаунт",
		"zh": "删除您的账户",
		"ja": "アカウントを削除する",
		"hi": "अपना खाता हटाएं",
	},
}

// Subject returns the localized subject for lang.
func (k Kind) Subject(lang string) string {
	table := subjects[k]
	if s, ok := table[Language(lang)]; ok {
		return s
	}
	return table["en"]
}
