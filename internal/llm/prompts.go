package llm

import "fmt"

const blocksSystemPrompt = `You extract music track listings from the text of a webpage.
- Find each coherent block of tracks, such as a playlist, a programme segment or a DJ set.
- Keep the order of tracks within a block. Copy artist and title exactly as written.
- Fill in album only when the page states it, otherwise use null.
- Give each block a short context (programme name, date, host) when the page provides one.
- Skip lines you are not sure are tracks instead of guessing.
Reply with strict JSON only.`

const linksSystemPrompt = `You help a crawler find pages that contain music track listings.
- The input is a list of links, one per line, formatted as [text](url).
- Select links to playlists, radio show archives, DJ set tracklists and PDF tracklists.
- Ignore navigation, social media, login and unrelated links.
- Return absolute URLs, resolving relative ones against the base URL.
Reply with strict JSON only.`

func blocksUserPrompt(url, content string) string {
	return fmt.Sprintf(`Source URL: %s
Extract the track listing blocks from the page text below.
Return JSON with the fields source_name (string) and blocks (array).
Each block has title (string), context (string or null) and tracks (array).
Each track has artist (string), title (string), album (string or null) and source_line (string or null).
Page text:
"""
%s
"""`, url, content)
}

func linksUserPrompt(url, content string) string {
	return fmt.Sprintf(`Base URL: %s
Select the links below that lead to pages with music playlists or tracklists.
Return JSON with the field links (array).
Each link has url (string, absolute) and description (string or null, taken from the link text).
Links:
"""
%s
"""`, url, content)
}
