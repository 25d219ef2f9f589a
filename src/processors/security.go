package processors

import (
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"

	"github.com/username/slips/src/models"
)

// SecurityFieldWidth is the number of digits in a Security Check Field.
const SecurityFieldWidth = 6

const securityModulus = 1_000_000

// Supported SECURITY_FORMULA values.
const (
	FormulaBlake2b = "blake2b"
	FormulaBlake2s = "blake2s"
)

// NewSecurityFormula returns the named formula keyed by the two shared secrets.
func NewSecurityFormula(name, secretA, secretB string) (SecurityFormula, error) {
	key := deriveKey(secretA, secretB)
	switch strings.ToLower(name) {
	case "", FormulaBlake2b:
		return &keyedFormula{name: FormulaBlake2b, key: key, newHash: func(k []byte) (hash.Hash, error) {
			return blake2b.New256(k)
		}}, nil
	case FormulaBlake2s:
		return &keyedFormula{name: FormulaBlake2s, key: key, newHash: func(k []byte) (hash.Hash, error) {
			return blake2s.New256(k)
		}}, nil
	}
	return nil, fmt.Errorf("unknown security formula %q", name)
}

// ComputeSecurityField computes the default formula directly from the shared secrets.
func ComputeSecurityField(originAccount, destAccount, txCode string, amount models.Amount, secretA, secretB string) string {
	f, _ := NewSecurityFormula(FormulaBlake2b, secretA, secretB)
	return f.Compute(originAccount, destAccount, txCode, amount)
}

// StampTransaction sets tx.SecurityCheckField using f.
func StampTransaction(tx *models.Transaction, f SecurityFormula) {
	tx.SecurityCheckField = f.Compute(tx.OrigAccountNo, tx.DestAccountNo, tx.TxCode, tx.Amount)
}

type keyedFormula struct {
	name    string
	key     []byte
	newHash func(key []byte) (hash.Hash, error)
}

func (f *keyedFormula) Name() string { return f.name }

// Compute digests origin|dest|code|amount under the secret key and reduces the
// first eight bytes of the digest to six decimal digits.
func (f *keyedFormula) Compute(originAccount, destAccount, txCode string, amount models.Amount) string {
	h, err := f.newHash(f.key)
	if err != nil {
		// key length is fixed at 32 bytes, which both digests accept
		panic(err)
	}
	fmt.Fprintf(h, "%s|%s|%s|%s", originAccount, destAccount, txCode, models.NewAmount(amount.Minor).Text)
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8]) % securityModulus
	return fmt.Sprintf("%0*d", SecurityFieldWidth, v)
}

func deriveKey(secretA, secretB string) []byte {
	sum := blake2b.Sum256([]byte(secretA + "\x00" + secretB))
	return sum[:]
}
