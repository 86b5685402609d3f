package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchDocumentID(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  DocumentType
		want string
	}{
		{"ndl", "BC DRIVER'S LICENCE\nNDL:01944956\nCLASS 5", DocumentTypeDriversLicense, "01944956"},
		{"dl with space", "DL 7654321 EXP 2027", DocumentTypeDriversLicense, "7654321"},
		{"licence number", "Licence No. 12345678", DocumentTypeDriversLicense, "12345678"},
		{"licence digits too long", "DL 1234567890", DocumentTypeDriversLicense, ""},
		{"phn spaced", "PERSONAL HEALTH NUMBER\n9123 456 789", DocumentTypeBCServices, "9123456789"},
		{"phn label", "PHN: 9876543210", DocumentTypeHealthCard, "9876543210"},
		{"phn wrong length", "PHN 12345", DocumentTypeHealthCard, ""},
		{"passport letters", "PASSPORT NO. ab123456", DocumentTypePassport, "AB123456"},
		{"passport digits", "Passport Number: 123456789", DocumentTypePassport, "123456789"},
		{
			"mrz",
			"P<CANMARTIN<<SARAH<<<<<<<<<<<<<<<<<<<<<<<<<<\nGA302922<0CAN8507143F3001012<<<<<<<<<<<<<<02",
			DocumentTypePassport,
			"GA302922",
		},
		{"bcid", "BCID 1234567", DocumentTypeBCID, "1234567"},
		{"unknown tries every family", "some card\nPHN 9123456789", DocumentTypeUnknown, "9123456789"},
		{"typed skips other families", "PHN 9123456789", DocumentTypePassport, ""},
		{"generic id", "ID NO: A1B2C3D4", DocumentTypeIDCard, "A1B2C3D4"},
		{"generic number label", "Registration Number 20231234", DocumentTypeBirthCertificate, "20231234"},
		{"generic needs a digit", "CARD HOLDERNAME", DocumentTypeIDCard, ""},
		{"november is not a label", "ISSUED NOVEMBER2024", DocumentTypeIDCard, ""},
		{"empty", "   ", DocumentTypeUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchDocumentID(tt.text, tt.typ))
		})
	}
}

func TestMatchDocumentID_TypeOrderBeforeGeneric(t *testing.T) {
	text := "CARD NO 99999999 NDL:01944956"
	assert.Equal(t, "01944956", MatchDocumentID(text, DocumentTypeDriversLicense))
	assert.Equal(t, "99999999", MatchDocumentID(text, DocumentTypeIDCard))
}
