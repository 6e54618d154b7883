package provenance

// Link is one stored transfer together with the hash recorded for it.
type Link struct {
	Data TransferData
	Hash string
}

// VerifyChain recomputes every link starting from the origin hash and returns
// the index of the first link that does not match, or -1 when the chain is intact.
func VerifyChain(originHash string, links []Link) int {
	prev := originHash
	for i, link := range links {
		if link.Data.PrevHash != prev {
			return i
		}
		hash, err := TransferHash(link.Data)
		if err != nil || hash != link.Hash {
			return i
		}
		prev = link.Hash
	}
	return -1
}
