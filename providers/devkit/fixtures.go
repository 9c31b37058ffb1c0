package devkit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SMSTextFixtures are representative vendor message bodies for extraction
// tests, keyed by service name.
func SMSTextFixtures() map[string]string {
	return map[string]string{
		"telegram": "Telegram code: 54321. Do not share it.",
		"whatsapp": "Your WhatsApp code: 123-456. Don't share this code.",
		"google":   "G-482915 is your Google verification code.",
		"generic":  "Use code 77341 to continue signing up.",
	}
}

// WebhookPayloadFixture builds a signed webhook body the processor accepts,
// mirroring a push-capable vendor's delivery format.
func WebhookPayloadFixture(secret, messageID, numberID, text string) ([]byte, string, error) {
	body, err := json.Marshal(map[string]any{
		"message_id":               messageID,
		"provider_verification_id": numberID,
		"text":                     text,
	})
	if err != nil {
		return nil, "", fmt.Errorf("devkit: encode webhook fixture: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return body, hex.EncodeToString(mac.Sum(nil)), nil
}
