package wire

import (
	"bufio"
	"bytes"
	"strconv"

	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
)

// Bind is the client's opening handshake for a session.
type Bind struct {
	SessionIdent        uint64
	NeedClientFileIdent bool
	IsSubserver         bool
	SignedUserToken     string
}

func (m *Bind) Leader() string { return leaderBind }
func (m *Bind) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderBind, m.SessionIdent, boolField(m.NeedClientFileIdent), boolField(m.IsSubserver), len(m.SignedUserToken))
	buf.WriteString(m.SignedUserToken)
	return buf.Bytes()
}

func decodeBind(args [][]byte, body []byte) (Message, error) {
	if err := requireFields(args, 4, leaderBind); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	need, err := parseBool(args[1], "need_client_file_ident")
	if err != nil {
		return nil, err
	}
	sub, err := parseBool(args[2], "is_subserver")
	if err != nil {
		return nil, err
	}
	tokenSize, err := parseUint(args[3], "signed_user_token_size")
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) != tokenSize {
		return nil, badSyntax("declared signed_user_token_size does not match buffer")
	}
	return &Bind{SessionIdent: sess, NeedClientFileIdent: need, IsSubserver: sub, SignedUserToken: string(body)}, nil
}

// Ident is the server's assignment of a salted client file identity.
type Ident struct {
	SessionIdent         uint64
	ClientFileIdent      keys.SaltedFileIdent
	ScanServerVersion    uint64
	ScanClientVersion    uint64
	LatestServerVersion  keys.SaltedVersion
}

func (m *Ident) Leader() string { return leaderIdent }
func (m *Ident) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderIdent,
		m.SessionIdent, m.ClientFileIdent.FileIdent, m.ClientFileIdent.Salt,
		m.ScanServerVersion, m.ScanClientVersion,
		m.LatestServerVersion.ServerVersion, m.LatestServerVersion.Salt,
	)
	return buf.Bytes()
}

func decodeIdent(args [][]byte) (Message, error) {
	if err := requireFields(args, 7, leaderIdent); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	fileIdent, err := parseUint(args[1], "client_file_ident")
	if err != nil {
		return nil, err
	}
	salt, err := parseInt(args[2], "client_file_ident_salt")
	if err != nil {
		return nil, err
	}
	scanSV, err := parseUint(args[3], "scan_server_version")
	if err != nil {
		return nil, err
	}
	scanCV, err := parseUint(args[4], "scan_client_version")
	if err != nil {
		return nil, err
	}
	latestSV, err := parseUint(args[5], "latest_server_version")
	if err != nil {
		return nil, err
	}
	latestSalt, err := parseInt(args[6], "latest_server_version_salt")
	if err != nil {
		return nil, err
	}
	return &Ident{
		SessionIdent:        sess,
		ClientFileIdent:     keys.SaltedFileIdent{FileIdent: fileIdent, Salt: salt},
		ScanServerVersion:   scanSV,
		ScanClientVersion:   scanCV,
		LatestServerVersion: keys.SaltedVersion{ServerVersion: latestSV, Salt: latestSalt},
	}, nil
}

// Download carries a batch of server changesets plus fresh progress
// cursors (spec.md §4.K, Scenario D).
type Download struct {
	SessionIdent      uint64
	Progress          keys.SyncProgress
	DownloadableBytes uint64
	IsBodyCompressed  bool
	Changesets        []history.RemoteChangeset
}

func (m *Download) Leader() string { return leaderDownload }
func (m *Download) Encode() []byte {
	body := encodeDownloadBody(m.Changesets)
	compressed := body
	if m.IsBodyCompressed {
		compressed = sharedEncoder.EncodeAll(body, nil)
	}
	var buf bytes.Buffer
	writeHeader(&buf, leaderDownload,
		m.SessionIdent,
		m.Progress.Download.ServerVersion, m.Progress.Download.LastIntegratedClientVersion,
		m.Progress.LatestServerVersion.ServerVersion, m.Progress.LatestServerVersion.Salt,
		m.Progress.Upload.ClientVersion, m.Progress.Upload.LastIntegratedServerVersion,
		m.DownloadableBytes, boolField(m.IsBodyCompressed), len(body), len(compressed),
	)
	buf.Write(compressed)
	return buf.Bytes()
}

func decodeDownload(args [][]byte, body []byte) (Message, error) {
	if err := requireFields(args, 11, leaderDownload); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	downloadSV, err := parseUint(args[1], "download_server_version")
	if err != nil {
		return nil, err
	}
	downloadCV, err := parseUint(args[2], "download_client_version")
	if err != nil {
		return nil, err
	}
	latestSV, err := parseUint(args[3], "latest_server_version")
	if err != nil {
		return nil, err
	}
	latestSalt, err := parseInt(args[4], "latest_server_version_salt")
	if err != nil {
		return nil, err
	}
	uploadCV, err := parseUint(args[5], "upload_client_version")
	if err != nil {
		return nil, err
	}
	uploadSV, err := parseUint(args[6], "upload_server_version")
	if err != nil {
		return nil, err
	}
	downloadableBytes, err := parseUint(args[7], "downloadable_bytes")
	if err != nil {
		return nil, err
	}
	compressed, err := parseBool(args[8], "is_body_compressed")
	if err != nil {
		return nil, err
	}
	uncompressedSize, err := parseUint(args[9], "uncompressed_size")
	if err != nil {
		return nil, err
	}
	bodySize, err := parseUint(args[10], "body_size")
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) != bodySize {
		return nil, badSyntax("declared body_size does not match buffer")
	}
	raw, err := decompress(body, compressed, int(uncompressedSize))
	if err != nil {
		return nil, err
	}
	changesets, err := downloadChangesetRecords(raw)
	if err != nil {
		return nil, err
	}
	return &Download{
		SessionIdent: sess,
		Progress: keys.SyncProgress{
			LatestServerVersion: keys.SaltedVersion{ServerVersion: latestSV, Salt: latestSalt},
			Download:            keys.DownloadCursor{ServerVersion: downloadSV, LastIntegratedClientVersion: downloadCV},
			Upload:              keys.UploadCursor{ClientVersion: uploadCV, LastIntegratedServerVersion: uploadSV},
		},
		DownloadableBytes: downloadableBytes,
		IsBodyCompressed:  compressed,
		Changesets:        changesets,
	}, nil
}

func encodeDownloadBody(changesets []history.RemoteChangeset) []byte {
	var buf bytes.Buffer
	for _, cs := range changesets {
		writeFields(&buf, cs.RemoteVersion, cs.LastIntegratedClientVersion, cs.OriginTimestamp,
			cs.OriginFileIdent, len(cs.Data), len(cs.Data))
		buf.Write(cs.Data)
	}
	return buf.Bytes()
}

func writeFields(buf *bytes.Buffer, fields ...any) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(toField(f))
	}
	buf.WriteByte(' ')
}

func toField(f any) string {
	switch v := f.(type) {
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func boolField(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UploadChangeset is one local changeset in an UPLOAD body.
type UploadChangeset struct {
	ClientVersion   uint64
	ServerVersion   uint64 // last integrated
	OriginTimestamp uint64
	OriginFileIdent uint64
	Data            []byte
}

// Upload carries a batch of local changesets to the server.
type Upload struct {
	SessionIdent     uint64
	IsBodyCompressed bool
	Changesets       []UploadChangeset
}

func (m *Upload) Leader() string { return leaderUpload }
func (m *Upload) Encode() []byte {
	var body bytes.Buffer
	for _, cs := range m.Changesets {
		writeFields(&body, cs.ClientVersion, cs.ServerVersion, cs.OriginTimestamp, cs.OriginFileIdent, len(cs.Data))
		body.Write(cs.Data)
	}
	payload := body.Bytes()
	compressed := payload
	if m.IsBodyCompressed {
		compressed = sharedEncoder.EncodeAll(payload, nil)
	}
	var buf bytes.Buffer
	writeHeader(&buf, leaderUpload, m.SessionIdent, boolField(m.IsBodyCompressed), len(payload), len(compressed))
	buf.Write(compressed)
	return buf.Bytes()
}

func decodeUpload(args [][]byte, body []byte) (Message, error) {
	if err := requireFields(args, 3, leaderUpload); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	compressed, err := parseBool(args[1], "is_body_compressed")
	if err != nil {
		return nil, err
	}
	uncompressedSize, err := parseUint(args[2], "uncompressed_size")
	if err != nil {
		return nil, err
	}
	raw, err := decompress(body, compressed, int(uncompressedSize))
	if err != nil {
		return nil, err
	}
	changesets, err := uploadChangesetRecords(raw)
	if err != nil {
		return nil, err
	}
	return &Upload{SessionIdent: sess, IsBodyCompressed: compressed, Changesets: changesets}, nil
}

func uploadChangesetRecords(body []byte) ([]UploadChangeset, error) {
	r := bufio.NewReader(bytes.NewReader(body))
	var out []UploadChangeset
	for {
		clientVersion, err := readUintField(r)
		if err == errEOFField {
			break
		}
		if err != nil {
			return nil, err
		}
		serverVersion, err := readUintField(r)
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
		changesetSize, err := readUintField(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, changesetSize)
		if _, err := readExact(r, data); err != nil {
			return nil, badSyntax("short changeset body: %v", err)
		}
		out = append(out, UploadChangeset{
			ClientVersion:   clientVersion,
			ServerVersion:   serverVersion,
			OriginTimestamp: originTS,
			OriginFileIdent: originFileIdent,
			Data:            data,
		})
	}
	return out, nil
}

// ErrorMsg is a server-delivered ERROR frame (spec.md §7, Scenario E).
type ErrorMsg struct {
	SessionIdent uint64
	Code         uint64
	TryAgain     bool
	Message      string
}

func (m *ErrorMsg) Leader() string { return leaderError }
func (m *ErrorMsg) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderError, m.Code, len(m.Message), boolField(m.TryAgain), m.SessionIdent)
	buf.WriteString(m.Message)
	return buf.Bytes()
}

func decodeError(args [][]byte, body []byte) (Message, error) {
	if err := requireFields(args, 4, leaderError); err != nil {
		return nil, err
	}
	code, err := parseUint(args[0], "code")
	if err != nil {
		return nil, err
	}
	msgSize, err := parseUint(args[1], "message_size")
	if err != nil {
		return nil, err
	}
	tryAgain, err := parseBool(args[2], "try_again")
	if err != nil {
		return nil, err
	}
	sess, err := parseUint(args[3], "session_ident")
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) != msgSize {
		return nil, badSyntax("declared message_size does not match buffer")
	}
	return &ErrorMsg{SessionIdent: sess, Code: code, TryAgain: tryAgain, Message: string(body)}, nil
}

// Mark acknowledges a client-requested upload/download checkpoint.
type Mark struct {
	SessionIdent uint64
	RequestIdent uint64
}

func (m *Mark) Leader() string { return leaderMark }
func (m *Mark) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderMark, m.SessionIdent, m.RequestIdent)
	return buf.Bytes()
}

func decodeMark(args [][]byte) (Message, error) {
	if err := requireFields(args, 2, leaderMark); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	req, err := parseUint(args[1], "request_ident")
	if err != nil {
		return nil, err
	}
	return &Mark{SessionIdent: sess, RequestIdent: req}, nil
}

// Ping/Pong are keepalive heartbeat frames.
type Ping struct {
	Timestamp uint64
	RTT       uint64
}

func (m *Ping) Leader() string { return leaderPing }
func (m *Ping) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderPing, m.Timestamp, m.RTT)
	return buf.Bytes()
}

func decodePing(args [][]byte) (Message, error) {
	if err := requireFields(args, 2, leaderPing); err != nil {
		return nil, err
	}
	ts, err := parseUint(args[0], "timestamp")
	if err != nil {
		return nil, err
	}
	rtt, err := parseUint(args[1], "rtt")
	if err != nil {
		return nil, err
	}
	return &Ping{Timestamp: ts, RTT: rtt}, nil
}

type Pong struct{ Timestamp uint64 }

func (m *Pong) Leader() string { return leaderPong }
func (m *Pong) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderPong, m.Timestamp)
	return buf.Bytes()
}

func decodePong(args [][]byte) (Message, error) {
	if err := requireFields(args, 1, leaderPong); err != nil {
		return nil, err
	}
	ts, err := parseUint(args[0], "timestamp")
	if err != nil {
		return nil, err
	}
	return &Pong{Timestamp: ts}, nil
}

// Alloc grants the client a fresh file ident mid-session.
type Alloc struct {
	SessionIdent uint64
	FileIdent    uint64
}

func (m *Alloc) Leader() string { return leaderAlloc }
func (m *Alloc) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderAlloc, m.SessionIdent, m.FileIdent)
	return buf.Bytes()
}

func decodeAlloc(args [][]byte) (Message, error) {
	if err := requireFields(args, 2, leaderAlloc); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	file, err := parseUint(args[1], "file_ident")
	if err != nil {
		return nil, err
	}
	return &Alloc{SessionIdent: sess, FileIdent: file}, nil
}

// Unbind tears a session down.
type Unbind struct{ SessionIdent uint64 }

func (m *Unbind) Leader() string { return leaderUnbind }
func (m *Unbind) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderUnbind, m.SessionIdent)
	return buf.Bytes()
}

func decodeUnbind(args [][]byte) (Message, error) {
	if err := requireFields(args, 1, leaderUnbind); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	return &Unbind{SessionIdent: sess}, nil
}

// Refresh re-authenticates an existing session with a new signed token.
type Refresh struct {
	SessionIdent    uint64
	SignedUserToken string
}

func (m *Refresh) Leader() string { return leaderRefresh }
func (m *Refresh) Encode() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, leaderRefresh, m.SessionIdent, len(m.SignedUserToken))
	buf.WriteString(m.SignedUserToken)
	return buf.Bytes()
}

func decodeRefresh(args [][]byte, body []byte) (Message, error) {
	if err := requireFields(args, 2, leaderRefresh); err != nil {
		return nil, err
	}
	sess, err := parseUint(args[0], "session_ident")
	if err != nil {
		return nil, err
	}
	size, err := parseUint(args[1], "token_size")
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) != size {
		return nil, badSyntax("declared token_size does not match buffer")
	}
	return &Refresh{SessionIdent: sess, SignedUserToken: string(body)}, nil
}
