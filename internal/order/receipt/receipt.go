package receipt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"ms-restaurant/internal/models"
)

var (
	ErrNotPaid        = errors.New("order is not paid")
	ErrInvalidReceipt = errors.New("invalid receipt")
)

// Receipt is what the QR code carries.
type Receipt struct {
	OrderID     string          `json:"orderId"`
	TableNumber int             `json:"tableNumber"`
	WaiterID    string          `json:"waiterId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ItemCount   int             `json:"itemCount"`
	PaidAt      time.Time       `json:"paidAt"`
}

func FromOrder(o *models.Order) (Receipt, error) {
	if !o.Paid || o.PaidAt == nil {
		return Receipt{}, ErrNotPaid
	}
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return Receipt{
		OrderID:     o.ID,
		TableNumber: o.TableNumber,
		WaiterID:    o.WaiterID,
		TotalAmount: o.TotalAmount,
		ItemCount:   count,
		PaidAt:      o.PaidAt.UTC(),
	}, nil
}

// Generator renders sealed receipts as QR codes. Only holders of the same
// secret can open them.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// PNG returns a size x size QR code for the order's receipt.
func (g *Generator) PNG(o *models.Order, size int) ([]byte, error) {
	r, err := FromOrder(o)
	if err != nil {
		return nil, err
	}
	sealed, err := g.Seal(r)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(sealed, qrcode.Medium, size)
}

func (g *Generator) Seal(r Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	gcm, err := g.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(gcm.Seal(nonce, nonce, data, nil)), nil
}

func (g *Generator) Open(sealed string) (Receipt, error) {
	raw, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	gcm, err := g.aead()
	if err != nil {
		return Receipt{}, err
	}
	if len(raw) < gcm.NonceSize() {
		return Receipt{}, ErrInvalidReceipt
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	var r Receipt
	if err := json.Unmarshal(plain, &r); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	return r, nil
}

func (g *Generator) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(g.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
