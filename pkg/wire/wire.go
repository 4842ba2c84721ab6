// Package wire implements component K: the text-header/binary-body codec
// exchanged with the sync server over WebSocket frames (spec.md §4.K).
// Every message is `type SP field SP field … \n [body]`; DOWNLOAD and
// UPLOAD carry an optionally-compressed body that is itself a
// concatenation of fixed-shape changeset records.
package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/protocolerror"
)

// Leader tokens, one per message type the codec recognizes.
const (
	leaderBind    = "bind"
	leaderIdent   = "ident"
	leaderUpload  = "upload"
	leaderDownload = "download"
	leaderError   = "error"
	leaderMark    = "mark"
	leaderPing    = "ping"
	leaderPong    = "pong"
	leaderAlloc   = "alloc"
	leaderUnbind  = "unbind"
	leaderRefresh = "refresh"
)

// maxUncompressedBodySize bounds decompression to guard against a hostile
// or corrupt declared size (spec.md §4.K "enforcing a maximum uncompressed
// size").
const maxUncompressedBodySize = 256 << 20

// Message is the tagged union of every recognized frame, discriminated by
// Leader() rather than a base/subclass hierarchy (spec.md §9 "variant
// collections").
type Message interface {
	Leader() string
	Encode() []byte
}

// BadMessageError wraps a protocolerror.Code for a malformed frame
// (spec.md §4.K: "rejects... surfaces an unknown_message protocol error
// rather than throwing").
type BadMessageError struct {
	Code protocolerror.Code
	Msg  string
}

func (e *BadMessageError) Error() string { return fmt.Sprintf("wire: %s: %s", e.Code, e.Msg) }

func badSyntax(format string, args ...any) error {
	return &BadMessageError{Code: protocolerror.BadSyntax, Msg: fmt.Sprintf(format, args...)}
}

// Decode parses one framed message out of raw. The header line is read up
// to and including '\n'; anything after is treated as the declared body.
func Decode(raw []byte) (Message, error) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, badSyntax("no header terminator")
	}
	header := string(raw[:nl])
	body := raw[nl+1:]
	fields := bytes.Fields([]byte(header))
	if len(fields) == 0 {
		return nil, badSyntax("empty header")
	}
	leader := string(fields[0])
	args := fields[1:]

	switch leader {
	case leaderBind:
		return decodeBind(args, body)
	case leaderIdent:
		return decodeIdent(args)
	case leaderDownload:
		return decodeDownload(args, body)
	case leaderUpload:
		return decodeUpload(args, body)
	case leaderError:
		return decodeError(args, body)
	case leaderMark:
		return decodeMark(args)
	case leaderPing:
		return decodePing(args)
	case leaderPong:
		return decodePong(args)
	case leaderAlloc:
		return decodeAlloc(args)
	case leaderUnbind:
		return decodeUnbind(args)
	case leaderRefresh:
		return decodeRefresh(args, body)
	default:
		return nil, &BadMessageError{Code: protocolerror.UnknownMessage, Msg: leader}
	}
}

func parseUint(f []byte, name string) (uint64, error) {
	v, err := strconv.ParseUint(string(f), 10, 64)
	if err != nil {
		return 0, badSyntax("bad field %s: %v", name, err)
	}
	return v, nil
}

func parseInt(f []byte, name string) (int64, error) {
	v, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, badSyntax("bad field %s: %v", name, err)
	}
	return v, nil
}

func parseBool(f []byte, name string) (bool, error) {
	switch string(f) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, badSyntax("bad bool field %s", name)
	}
}

func requireFields(args [][]byte, n int, leader string) error {
	if len(args) < n {
		return badSyntax("%s: expected %d fields, got %d", leader, n, len(args))
	}
	return nil
}

// sharedEncoder/sharedDecoder compress and decompress DOWNLOAD/UPLOAD
// bodies. They hold no per-connection state, so a single pair is reused
// across every Decode/Encode call rather than allocated per message.
var sharedEncoder *zstd.Encoder
var sharedDecoder *zstd.Decoder

func init() {
	var err error
	sharedEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("wire: construct zstd encoder: %v", err))
	}
	sharedDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("wire: construct zstd decoder: %v", err))
	}
}

func decompress(body []byte, compressed bool, uncompressedSize int) ([]byte, error) {
	if !compressed {
		return body, nil
	}
	if uncompressedSize > maxUncompressedBodySize {
		return nil, badSyntax("declared uncompressed size %d exceeds maximum", uncompressedSize)
	}
	out, err := sharedDecoder.DecodeAll(body, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, badSyntax("decompress body: %v", err)
	}
	return out, nil
}

func writeHeader(buf *bytes.Buffer, leader string, fields ...any) {
	buf.WriteString(leader)
	for _, f := range fields {
		buf.WriteByte(' ')
		fmt.Fprintf(buf, "%v", f)
	}
	buf.WriteByte('\n')
}

// downloadChangesetRecords decodes the concatenation of
// `server_version client_version origin_ts origin_file_ident original_size
// changeset_size <bytes>` records that make up a DOWNLOAD body (spec.md
// §4.K), returning RemoteChangesets whose Data is copied out of body into a
// fresh buffer, so the result does not share memory with body.
func downloadChangesetRecords(body []byte) ([]history.RemoteChangeset, error) {
	r := bufio.NewReader(bytes.NewReader(body))
	var out []history.RemoteChangeset
	for {
		serverVersion, err := readUintField(r)
		if err == errEOFField {
			break
		}
		if err != nil {
			return nil, err
		}
		clientVersion, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		originTS, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		originFileIdent, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		originalSize, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		changesetSize, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, changesetSize)
		if _, err := readExact(r, data); err != nil {
			return nil, badSyntax("short changeset body: %v", err)
		}
		if uint64(len(data)) != changesetSize {
			return nil, &BadMessageError{Code: protocolerror.BadChangesetSize, Msg: "declared size mismatch"}
		}
		_ = originalSize
		out = append(out, history.RemoteChangeset{
			Data:                        data,
			RemoteVersion:               serverVersion,
			LastIntegratedClientVersion: clientVersion,
			OriginFileIdent:             originFileIdent,
			OriginTimestamp:             originTS,
		})
	}
	return out, nil
}

var errEOFField = fmt.Errorf("wire: no more fields")

func readUintField(r *bufio.Reader) (uint64, error) {
	tok, err := r.ReadString(' ')
	if err != nil {
		if len(tok) == 0 {
			return 0, errEOFField
		}
		return 0, badSyntax("unterminated field")
	}
	tok = tok[:len(tok)-1]
	return strconv.ParseUint(tok, 10, 64)
}

func readExact(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
