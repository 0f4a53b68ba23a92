// Package modelio reads and writes the persisted model envelope: the opaque
// native model bytes plus the metadata a predictor needs to rebuild itself.
//
// Layout (little-endian):
//
//	magic "XGBW" | uint32 version | int32 kind
//	int32 blobLen | blob
//	int32 nativeFeatureCount
//	int32 callerFeatureCount                            (version >= 0x00010003)
//	multiclass only:
//	  int32 classCount
//	  int32 mappingLen (-1 = none) | int32[mappingLen]  (version >= 0x00010002)
//	  byte isFloatLabel                                 (version >= 0x00010002)
package modelio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/training"
)

// Magic opens every envelope.
const Magic = "XGBW"

// Envelope versions. Writers always emit CurrentVersion.
const (
	VersionInitial        uint32 = 0x00010001
	VersionClassMapping   uint32 = 0x00010002
	VersionCallerFeatures uint32 = 0x00010003

	CurrentVersion = VersionCallerFeatures
)

var byteOrder = binary.LittleEndian

// Model is the decoded envelope.
type Model struct {
	// Version is the envelope version the model was read from. Write ignores it.
	Version uint32
	Kind    training.Task
	Raw     []byte

	NumFeaturesNative int
	NumFeaturesCaller int

	// Multiclass only.
	NumClass     int
	ClassMapping []int32
	IsFloatLabel bool
}

// FromTraining captures the persisted part of a trained model.
func FromTraining(m *training.Model) *Model {
	return &Model{
		Version:           CurrentVersion,
		Kind:              m.Task,
		Raw:               append([]byte(nil), m.Raw...),
		NumFeaturesNative: m.NumFeaturesNative,
		NumFeaturesCaller: m.NumFeaturesCaller,
		NumClass:          m.NumClass,
		ClassMapping:      append([]int32(nil), m.ClassMapping...),
		IsFloatLabel:      m.IsFloatLabel,
	}
}

// Validate checks the invariants Read enforces on decoded envelopes.
func (m *Model) Validate() error {
	return m.validate("modelio.Validate")
}

func (m *Model) validate(op string) error {
	switch m.Kind {
	case training.Regression, training.BinaryClassification, training.MulticlassClassification, training.Ranking:
	default:
		return errors.NewSerializationError(op, "unknown model kind", errors.Newf("kind %d", int(m.Kind)))
	}
	if len(m.Raw) == 0 {
		return errors.NewSerializationError(op, "empty model blob", nil)
	}
	if m.NumFeaturesNative <= 0 {
		return errors.NewSerializationError(op, "native feature count must be positive",
			errors.Newf("got %d", m.NumFeaturesNative))
	}
	if m.NumFeaturesCaller < m.NumFeaturesNative {
		return errors.NewSerializationError(op, "caller feature count is below the native count",
			errors.Newf("caller %d, native %d", m.NumFeaturesCaller, m.NumFeaturesNative))
	}
	if m.Kind != training.MulticlassClassification {
		return nil
	}
	if m.NumClass <= 0 {
		return errors.NewSerializationError(op, "class count must be positive", errors.Newf("got %d", m.NumClass))
	}
	if len(m.ClassMapping) > m.NumClass {
		return errors.NewSerializationError(op, "class mapping is longer than the class count",
			errors.Newf("mapping %d, classes %d", len(m.ClassMapping), m.NumClass))
	}
	for i, c := range m.ClassMapping {
		if c < 0 || (i > 0 && c <= m.ClassMapping[i-1]) {
			return errors.NewSerializationError(op, "class mapping must be strictly increasing and non-negative",
				errors.Newf("entry %d is %d", i, c))
		}
	}
	if m.IsFloatLabel && len(m.ClassMapping) == 0 {
		return errors.NewSerializationError(op, "float labels require a class mapping", nil)
	}
	return nil
}

// Write encodes m at CurrentVersion.
func Write(w io.Writer, m *Model) error {
	return write(w, m, CurrentVersion)
}

func write(w io.Writer, m *Model, version uint32) error {
	const op = "modelio.Write"
	if err := m.validate(op); err != nil {
		return err
	}
	if version < VersionCallerFeatures && m.NumFeaturesCaller != m.NumFeaturesNative {
		return errors.NewSerializationError(op, "version cannot hold a separate caller feature count", nil)
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	putUint32(&buf, version)
	putInt32(&buf, int32(m.Kind))
	putInt32(&buf, int32(len(m.Raw)))
	buf.Write(m.Raw)
	putInt32(&buf, int32(m.NumFeaturesNative))
	if version >= VersionCallerFeatures {
		putInt32(&buf, int32(m.NumFeaturesCaller))
	}
	if m.Kind == training.MulticlassClassification {
		putInt32(&buf, int32(m.NumClass))
		if version >= VersionClassMapping {
			if m.ClassMapping == nil {
				putInt32(&buf, -1)
			} else {
				putInt32(&buf, int32(len(m.ClassMapping)))
				for _, c := range m.ClassMapping {
					putInt32(&buf, c)
				}
			}
			if m.IsFloatLabel {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write envelope")
	}
	return nil
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putInt32(buf *bytes.Buffer, v int32) {
	putUint32(buf, uint32(v))
}

// reader accumulates the first decode failure so the field sequence in Read
// stays linear.
type reader struct {
	r   io.Reader
	err error
}

func (d *reader) read(p []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		d.err = err
	}
}

func (d *reader) uint32() uint32 {
	var b [4]byte
	d.read(b[:])
	return byteOrder.Uint32(b[:])
}

func (d *reader) int32() int32 {
	return int32(d.uint32())
}

// maxMappingPrealloc bounds the class mapping capacity reserved before its
// entries are read.
const maxMappingPrealloc = 1024

// Read decodes one envelope from r.
func Read(r io.Reader) (*Model, error) {
	const op = "modelio.Read"
	d := &reader{r: r}
	truncated := func() error {
		return errors.NewSerializationError(op, "truncated envelope", d.err)
	}

	magic := make([]byte, len(Magic))
	d.read(magic)
	if d.err != nil {
		return nil, truncated()
	}
	if string(magic) != Magic {
		return nil, errors.NewSerializationError(op, "bad magic", errors.Newf("got %q", magic))
	}
	m := &Model{}
	m.Version = d.uint32()
	if d.err != nil {
		return nil, truncated()
	}
	if m.Version < VersionInitial || m.Version > CurrentVersion {
		return nil, errors.NewSerializationError(op, "unsupported envelope version", errors.Newf("version %#08x", m.Version))
	}
	m.Kind = training.Task(d.int32())

	blobLen := d.int32()
	if d.err != nil {
		return nil, truncated()
	}
	if blobLen <= 0 {
		return nil, errors.NewSerializationError(op, "invalid model blob length", errors.Newf("got %d", blobLen))
	}
	// CopyN keeps a corrupt length from allocating before the bytes exist.
	var blob bytes.Buffer
	if _, err := io.CopyN(&blob, r, int64(blobLen)); err != nil {
		return nil, errors.NewSerializationError(op, "truncated model blob", err)
	}
	m.Raw = blob.Bytes()

	m.NumFeaturesNative = int(d.int32())
	m.NumFeaturesCaller = m.NumFeaturesNative
	if m.Version >= VersionCallerFeatures {
		m.NumFeaturesCaller = int(d.int32())
	}

	if m.Kind == training.MulticlassClassification {
		m.NumClass = int(d.int32())
		if m.Version >= VersionClassMapping {
			n := d.int32()
			if d.err == nil && (n < -1 || int(n) > m.NumClass) {
				return nil, errors.NewSerializationError(op, "invalid class mapping length", errors.Newf("got %d", n))
			}
			if n >= 0 {
				// The length is untrusted until its entries have been read.
				m.ClassMapping = make([]int32, 0, min(n, maxMappingPrealloc))
				for i := int32(0); i < n && d.err == nil; i++ {
					m.ClassMapping = append(m.ClassMapping, d.int32())
				}
			}
			var flag [1]byte
			d.read(flag[:])
			if d.err == nil && flag[0] > 1 {
				return nil, errors.NewSerializationError(op, "invalid label flag", errors.Newf("got %d", flag[0]))
			}
			m.IsFloatLabel = flag[0] == 1
		}
	}
	if d.err != nil {
		return nil, truncated()
	}
	if err := m.validate(op); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal is Write into a fresh byte slice.
func Marshal(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Read from a byte slice that must hold exactly one envelope.
func Unmarshal(data []byte) (*Model, error) {
	r := bytes.NewReader(data)
	m, err := Read(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.NewSerializationError("modelio.Unmarshal", "trailing bytes after envelope",
			errors.Newf("%d bytes", r.Len()))
	}
	return m, nil
}

// SaveFile writes m to filename.
func SaveFile(filename string, m *Model) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close file")
		}
	}()

	bw := bufio.NewWriter(file)
	if err := Write(bw, m); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFile reads an envelope from filename.
func LoadFile(filename string) (*Model, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return Read(bufio.NewReader(file))
}
