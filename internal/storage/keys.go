package storage

import "strings"

// Key layout shared by the key-value backends:
//
//	record:<master>                 encoded record
//	data:<data_hash>:<master>       empty, secondary index
//	config:<config_hash>:<master>   empty, secondary index
const (
	recordPrefix = "record:"
	dataPrefix   = "data:"
	configPrefix = "config:"
)

func recordKey(masterHash string) []byte {
	return []byte(recordPrefix + masterHash)
}

func dataIndexKey(dataHash, masterHash string) []byte {
	return []byte(dataPrefix + dataHash + ":" + masterHash)
}

func configIndexKey(configHash, masterHash string) []byte {
	return []byte(configPrefix + configHash + ":" + masterHash)
}

func dataIndexPrefix(dataHash string) []byte {
	return []byte(dataPrefix + dataHash + ":")
}

func configIndexPrefix(configHash string) []byte {
	return []byte(configPrefix + configHash + ":")
}

// masterFromIndexKey returns the master hash at the end of an index key.
func masterFromIndexKey(key []byte) string {
	s := string(key)
	return s[strings.LastIndexByte(s, ':')+1:]
}

// groupFromIndexKey returns the data or config hash of an index key.
func groupFromIndexKey(key []byte, prefix string) string {
	s := strings.TrimPrefix(string(key), prefix)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
