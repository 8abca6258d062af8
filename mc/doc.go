// Package mc implements the MELSEC communication (MC) protocol 1E frame used by FX3U-ENET
// style Ethernet modules.
//
// The package is transport agnostic. It covers the steps that turn symbolic device addresses
// into wire frames and back:
//
//   - ParseAddress resolves text such as "D100", "X0,20", "D100.3" or "DFLOAT200" into an Item.
//   - BuildReadBlocks merges sorted read Items into Blocks and splits each Block into
//     Requests that respect the device's per-transaction size limit. BuildWriteBlock does the
//     same for one write Item without merging.
//   - Packetize wraps Requests into Packets, one Request each, tagged with an internal
//     sequence number that never goes on the wire.
//   - AppendRequest encodes a Request into a 12-byte header plus write payload, and
//     DecodeReadReply / DecodeWriteReply classify replies and paint Quality.
//   - Binarize and Asciize transcode frames for ASCII mode.
//
// Values decoded from reply payloads are folded back into Items by Block.ExtractItems once
// every Request of the Block has been answered.
package mc
