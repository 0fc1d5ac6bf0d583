package mdnsquery

// packetBudget is the conservative per-packet size spec §4.B mandates for
// known-answer suppression: 1500 bytes (the typical Ethernet MTU), leaving
// headers and the question section to the caller's own budget accounting.
const packetBudget = 1500

// headerOverhead approximates the fixed DNS message header plus one
// resource-record's name/type/class/ttl/rdlength fixed fields, exclusive
// of RDATA. Matches the wire layout golang.org/x/net/dns/dnsmessage
// produces for a minimal query + answer section.
const headerOverhead = 12 + 10

// PackKnownAnswers splits known into one or more packets' worth of
// answers, each kept under packetBudget bytes of estimated wire size.
// Answers that individually exceed the budget are dropped — spec §4.B
// says truncated packets carry no "next-packet" pointer, so an
// answer that can never fit is simply omitted.
func PackKnownAnswers(known map[AnswerKey][]KnownAnswer) [][]KnownAnswer {
	var flat []KnownAnswer
	for _, v := range known {
		flat = append(flat, v...)
	}
	if len(flat) == 0 {
		return nil
	}

	var packets [][]KnownAnswer
	var current []KnownAnswer
	used := headerOverhead
	for _, ka := range flat {
		size := len(ka.Name) + 1 + 10 + ka.RDataLen
		if size > packetBudget-headerOverhead {
			continue // can never fit alone; drop per spec §4.B
		}
		if used+size > packetBudget && len(current) > 0 {
			packets = append(packets, current)
			current = nil
			used = headerOverhead
		}
		current = append(current, ka)
		used += size
	}
	if len(current) > 0 {
		packets = append(packets, current)
	}
	return packets
}
