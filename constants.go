package trackmilter

// Milter protocol version we negotiate with the MTA. Version 2 framing is
// understood by every sendmail and postfix release still in the wild.
const protocolVersion = 2

// Commands the MTA sends us, one byte each, as defined by libmilter.
const (
	cmdOptNeg  = 'O' // SMFIC_OPTNEG
	cmdMacro   = 'D' // SMFIC_MACRO
	cmdConnect = 'C' // SMFIC_CONNECT
	cmdHelo    = 'H' // SMFIC_HELO
	cmdMail    = 'M' // SMFIC_MAIL
	cmdRcpt    = 'R' // SMFIC_RCPT
	cmdData    = 'T' // SMFIC_DATA
	cmdHeader  = 'L' // SMFIC_HEADER
	cmdEOH     = 'N' // SMFIC_EOH
	cmdBody    = 'B' // SMFIC_BODY
	cmdBodyEOB = 'E' // SMFIC_BODYEOB
	cmdAbort   = 'A' // SMFIC_ABORT
	cmdQuit    = 'Q' // SMFIC_QUIT
)

// Replies we can send back to the MTA.
const (
	respAccept       = 'a' // SMFIR_ACCEPT
	respContinue     = 'c' // SMFIR_CONTINUE
	respDiscard      = 'd' // SMFIR_DISCARD
	respReject       = 'r' // SMFIR_REJECT
	respTempFail     = 't' // SMFIR_TEMPFAIL
	respAddHeader    = 'h' // SMFIR_ADDHEADER
	respChangeHeader = 'm' // SMFIR_CHGHEADER
	respReplaceBody  = 'b' // SMFIR_REPLBODY
	respOptNeg       = 'O' // SMFIR_OPTNEG
)

// Action bits we request from the MTA during option negotiation.
const (
	actionAddHeader    = 1 << 0 // SMFIF_ADDHDRS
	actionChangeBody   = 1 << 1 // SMFIF_CHGBODY
	actionChangeHeader = 1 << 4 // SMFIF_CHGHDRS
)

// Address family codes in SMFIC_CONNECT payload.
const (
	familyUnknown = 'U' // SMFIA_UNKNOWN
	familyUnix    = 'L' // SMFIA_UNIX
	familyInet    = '4' // SMFIA_INET
	familyInet6   = '6' // SMFIA_INET6
)

// maxPacketSize is the largest single packet we accept from the MTA. Body
// chunks are capped at 65535 bytes by libmilter, everything else is smaller.
const maxPacketSize = 1 << 20

// bodyChunkSize is how we slice replacement bodies into SMFIR_REPLBODY packets.
const bodyChunkSize = 65535
