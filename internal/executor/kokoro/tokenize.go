package kokoro

// The model's vocabulary assigns token ids by position in the symbol
// inventory: padding, punctuation, Latin letters, then IPA phones.
// Characters outside the inventory are dropped.

const (
	symbolPad         = "$"
	symbolPunctuation = `;:,.!?¡¿—…"«»“” `
	symbolLetters     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	symbolLettersIPA  = "ɑɐɒæɓʙβɔɕçɗɖðʤəɘɚɛɜɝɞɟʄɡɠɢʛɦɧħɥʜɨɪʝɭɬɫɮʟɱɯɰŋɳɲɴøɵɸθœɶʘɹɺɾɻʀʁɽʂʃʈʧʉʊʋⱱʌɣɤʍχʎʏʑʐʒʔʡʕʢǀǁǂǃˈˌːˑʼʴʰʱʲʷˠˤ˞↓↑→↗↘'̩'ᵻ"
)

var vocab = buildVocab()

func buildVocab() map[rune]int64 {
	v := make(map[rune]int64)
	var id int64
	for _, r := range symbolPad + symbolPunctuation + symbolLetters + symbolLettersIPA {
		if _, exists := v[r]; !exists {
			v[r] = id
		}
		id++
	}
	return v
}

// tokenize maps input characters onto vocabulary ids, skipping
// anything outside the inventory.
func tokenize(s string) []int64 {
	tokens := make([]int64, 0, len(s))
	for _, r := range s {
		if id, ok := vocab[r]; ok {
			tokens = append(tokens, id)
		}
	}
	return tokens
}
