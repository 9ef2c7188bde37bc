package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rc4"
	"testing"

	"github.com/halverson/pdfcore/model"
)

// buildR3Dict constructs a Standard security handler dict (R3, RC4,
// 128-bit key) the way a writer installing a user/owner password pair
// would, so Authenticate can be tested against it without a real file.
func buildR3Dict(t *testing.T, userPw, ownerPw string, id0 []byte) model.Dict {
	t.Helper()
	const revision = 3
	const keyLength = 16

	ownerPadded := padPassword(ownerPw)
	userPadded := padPassword(userPw)

	ownerKey := ownerFileKeyBase(revision, keyLength, ownerPadded)
	o := append([]byte(nil), userPadded[:]...)
	// Algorithm 3.3 steps e/f: encrypt the padded user password through
	// 20 RC4 passes with successively XOR'd keys.
	for i := 0; i <= 19; i++ {
		xored := make([]byte, len(ownerKey))
		for j, b := range ownerKey {
			xored[j] = b ^ byte(i)
		}
		c, err := rc4.NewCipher(xored)
		if err != nil {
			t.Fatal(err)
		}
		c.XORKeyStream(o, o)
	}

	p := int32(-3904) // arbitrary permissions bit pattern
	fileKey := fileKeyFromPassword(revision, keyLength, userPadded, o, p, id0, true)
	u := userHash(revision, fileKey, id0)

	return model.Dict{
		model.Name("Filter"): model.Name("Standard"),
		model.Name("V"):      model.Integer(2),
		model.Name("R"):      model.Integer(revision),
		model.Name("Length"): model.Integer(keyLength * 8),
		model.Name("P"):      model.Integer(p),
		model.Name("O"):      model.LiteralString(o),
		model.Name("U"):      model.LiteralString(u),
	}
}

func TestAuthenticateUserPassword(t *testing.T) {
	id0 := []byte("0123456789abcdef")
	dict := buildR3Dict(t, "user", "owner", id0)
	h, err := FromDict(dict, id0)
	if err != nil {
		t.Fatal(err)
	}
	isOwner, ok := h.Authenticate("user")
	if !ok {
		t.Fatal("expected user password to authenticate")
	}
	if isOwner {
		t.Fatal("expected isOwner=false for the user password")
	}
	if len(h.FileKey) != 16 {
		t.Fatalf("file key length = %d", len(h.FileKey))
	}
}

func TestAuthenticateOwnerPassword(t *testing.T) {
	id0 := []byte("0123456789abcdef")
	dict := buildR3Dict(t, "user", "owner", id0)
	h, err := FromDict(dict, id0)
	if err != nil {
		t.Fatal(err)
	}
	isOwner, ok := h.Authenticate("owner")
	if !ok {
		t.Fatal("expected owner password to authenticate")
	}
	if !isOwner {
		t.Fatal("expected isOwner=true for the owner password")
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	id0 := []byte("0123456789abcdef")
	dict := buildR3Dict(t, "user", "owner", id0)
	h, err := FromDict(dict, id0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Authenticate("wrong"); ok {
		t.Fatal("expected wrong password to fail authentication")
	}
}

func TestObjectKeyLengthShortFileKeyUncapped(t *testing.T) {
	// 40-bit (5-byte) file key: len+5 = 10, below the 16-byte cap.
	h := &Handler{FileKey: make([]byte, 5), Method: MethodRC4}
	key := h.ObjectKey(model.Reference{Number: 5, Generation: 0})
	if len(key) != 10 {
		t.Fatalf("object key length = %d, want 10", len(key))
	}
}

func TestObjectKeyLengthCappedAt16(t *testing.T) {
	// 128-bit (16-byte) file key: len+5 = 21, capped to 16.
	h := &Handler{FileKey: make([]byte, 16), Method: MethodAESV2}
	key := h.ObjectKey(model.Reference{Number: 5, Generation: 0})
	if len(key) != 16 {
		t.Fatalf("object key length = %d, want 16 (capped)", len(key))
	}
}

func TestObjectKeyR5UsesFileKeyDirectly(t *testing.T) {
	h := &Handler{R: 6, FileKey: make([]byte, 32), Method: MethodAESV3}
	key := h.ObjectKey(model.Reference{Number: 5, Generation: 0})
	if len(key) != 32 {
		t.Fatalf("R6 object key length = %d, want 32 (file key, no derivation)", len(key))
	}
}

func TestEncryptDecryptRoundTripRC4(t *testing.T) {
	h := &Handler{FileKey: bytes.Repeat([]byte{0x11}, 16), Method: MethodRC4}
	ref := model.Reference{Number: 9, Generation: 0}
	plain := []byte("round trip payload")

	ct, err := h.Encrypt(ref, plain)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Decrypt(ref, ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plain) {
		t.Fatalf("got %q want %q", got, plain)
	}
}

func TestEncryptDecryptRoundTripAES(t *testing.T) {
	h := &Handler{FileKey: bytes.Repeat([]byte{0x22}, 16), Method: MethodAESV2}
	ref := model.Reference{Number: 4, Generation: 0}
	plain := []byte("another round trip payload, a bit longer this time")

	ct, err := h.Encrypt(ref, plain)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Decrypt(ref, ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plain) {
		t.Fatalf("got %q want %q", got, plain)
	}
}

func TestDecryptAESCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	plain := []byte("a short test payload")

	// Emulate the writer side: PKCS#7 pad, random IV, CBC encrypt.
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	wire := append(append([]byte(nil), iv...), ct...)
	got, err := decryptAESCBC(key, wire)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plain) {
		t.Fatalf("got %q want %q", got, plain)
	}
}
