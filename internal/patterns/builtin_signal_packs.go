package patterns

import (
	"fmt"
	"regexp"
)

// packSpec is the plain-text source for a builtin language pack, compiled
// once by buildBuiltinPack. Keeping the raw strings in one table makes the
// per-language differences (especially the CJK no-\b rule) easy to audit.
type packSpec struct {
	corrections          []string
	shortNegatives       []string
	questions            []string
	dissatisfaction      []string
	satisfactionOverride []string
	resolutionIndicator  []string
	completionClaims     []string
	systemStateClaims    []string
	opinionExclusions    []string
}

// builtinSpecs covers the ten required locales. CJK entries avoid \b
// entirely; alphabetic-script entries use it for precision.
var builtinSpecs = map[string]packSpec{
	"en": {
		corrections:          []string{`\bno,? i (meant|said)\b`, `\bthat'?s (not|wrong)\b`, `\bactually,? (no|that'?s wrong)\b`, `\byou misunderstood\b`},
		shortNegatives:       []string{`^no\.?$`, `^nope\.?$`, `^nah\.?$`},
		questions:            []string{`\?\s*$`, `\b(should i|shall i|do you want)\b`},
		dissatisfaction:      []string{`\bthis (is|isn'?t) (useless|frustrating|not working)\b`, `\bi'?m (frustrated|annoyed|disappointed)\b`, `\bstill (broken|not working)\b`},
		satisfactionOverride: []string{`\b(thanks|thank you|great|perfect|awesome)\b`},
		resolutionIndicator:  []string{`\b(fixed|resolved|works now|all good)\b`},
		completionClaims:     []string{`\b(done|completed|finished|all set|looks (fine|good))\b`, `\bthe (service|server|task) is (running|fixed|complete)\b`, `\bi'?ve (fixed|resolved|completed) (it|this)\b`},
		systemStateClaims:    []string{`\b(service|server|cpu|memory|disk) is (running|up|down|at \d+%)\b`, `\b(the build|the deploy|the job) (passed|succeeded|failed)\b`},
		opinionExclusions:    []string{`\bi (think|believe|guess)\b`, `\bprobably\b`, `\bit seems\b`},
	},
	"de": {
		corrections:          []string{`\bnein,? ich (meinte|habe gesagt)\b`, `\bdas (ist|war) (falsch|nicht richtig)\b`, `\bdu hast (mich )?missverstanden\b`, `\beigentlich (nein|falsch)\b`},
		shortNegatives:       []string{`^nein\.?$`, `^nö\.?$`},
		questions:            []string{`\?\s*$`, `\b(soll ich|möchtest du)\b`},
		dissatisfaction:      []string{`\bdas (ist|funktioniert) (nutzlos|nicht)\b`, `\bich bin (frustriert|genervt)\b`, `\bimmer noch (kaputt|defekt)\b`},
		satisfactionOverride: []string{`\b(danke|perfekt|super|klasse)\b`},
		resolutionIndicator:  []string{`\b(behoben|gelöst|funktioniert jetzt)\b`},
		completionClaims:     []string{`\b(erledigt|fertig|abgeschlossen)\b`, `\bder (dienst|server) (läuft|ist fertig)\b`, `\bich habe (es|das) (behoben|erledigt)\b`},
		systemStateClaims:    []string{`\b(dienst|server|cpu|speicher) (läuft|ist (aktiv|down))\b`, `\bder (build|deploy) (war erfolgreich|ist fehlgeschlagen)\b`},
		opinionExclusions:    []string{`\bich (denke|glaube)\b`, `\bwahrscheinlich\b`},
	},
	"fr": {
		corrections:          []string{`\bnon,? je (voulais dire|ai dit)\b`, `\bc'?est (faux|incorrect)\b`, `\btu (as|as mal) compris\b`, `\ben fait,? non\b`},
		shortNegatives:       []string{`^non\.?$`},
		questions:            []string{`\?\s*$`, `\b(dois-je|veux-tu)\b`},
		dissatisfaction:      []string{`\bc'?est (inutile|frustrant)\b`, `\bje suis (frustré|déçu)\b`, `\btoujours (cassé|pas bon)\b`},
		satisfactionOverride: []string{`\b(merci|parfait|super)\b`},
		resolutionIndicator:  []string{`\b(résolu|corrigé|ça marche maintenant)\b`},
		completionClaims:     []string{`\b(terminé|fait|complété)\b`, `\ble service est (fonctionnel|terminé)\b`, `\bj'?ai (corrigé|terminé) (ça|cela)\b`},
		systemStateClaims:    []string{`\b(le service|le serveur|le cpu) est (actif|en panne|à \d+%)\b`, `\ble déploiement a (réussi|échoué)\b`},
		opinionExclusions:    []string{`\bje (pense|crois)\b`, `\bprobablement\b`},
	},
	"es": {
		corrections:          []string{`\bno,? quise decir\b`, `\beso (es|está) (mal|incorrecto)\b`, `\bme (mal)?entendiste\b`, `\ben realidad,? no\b`},
		shortNegatives:       []string{`^no\.?$`},
		questions:            []string{`\?\s*$`, `\b(debo|quieres que)\b`},
		dissatisfaction:      []string{`\beso es (inútil|frustrante)\b`, `\bestoy (frustrado|decepcionado)\b`, `\btodavía (roto|no funciona)\b`},
		satisfactionOverride: []string{`\b(gracias|perfecto|genial)\b`},
		resolutionIndicator:  []string{`\b(resuelto|arreglado|ya funciona)\b`},
		completionClaims:     []string{`\b(listo|terminado|completado)\b`, `\bel servicio está (funcionando|terminado)\b`, `\bya (lo )?(arreglé|completé)\b`},
		systemStateClaims:    []string{`\b(el servicio|el servidor|la cpu) está (activo|caído|al \d+%)\b`, `\bel despliegue (tuvo éxito|falló)\b`},
		opinionExclusions:    []string{`\bcreo que\b`, `\bprobablemente\b`},
	},
	"pt": {
		corrections:          []string{`\bnão,? quis dizer\b`, `\bisso (está|é) (errado|incorreto)\b`, `\bvocê entendeu mal\b`, `\bna verdade,? não\b`},
		shortNegatives:       []string{`^não\.?$`},
		questions:            []string{`\?\s*$`, `\b(devo|quer que)\b`},
		dissatisfaction:      []string{`\bisso é (inútil|frustrante)\b`, `\bestou (frustrado|decepcionado)\b`, `\bainda (quebrado|não funciona)\b`},
		satisfactionOverride: []string{`\b(obrigado|perfeito|ótimo)\b`},
		resolutionIndicator:  []string{`\b(resolvido|corrigido|já funciona)\b`},
		completionClaims:     []string{`\b(pronto|concluído|finalizado)\b`, `\bo serviço está (funcionando|concluído)\b`, `\bjá (corrigi|concluí) isso\b`},
		systemStateClaims:    []string{`\b(o serviço|o servidor|a cpu) está (ativo|inativo|em \d+%)\b`, `\bo deploy (teve sucesso|falhou)\b`},
		opinionExclusions:    []string{`\bacho que\b`, `\bprovavelmente\b`},
	},
	"it": {
		corrections:          []string{`\bno,? intendevo\b`, `\bquesto è (sbagliato|scorretto)\b`, `\bhai frainteso\b`, `\bin realtà,? no\b`},
		shortNegatives:       []string{`^no\.?$`},
		questions:            []string{`\?\s*$`, `\b(devo|vuoi che)\b`},
		dissatisfaction:      []string{`\bè (inutile|frustrante)\b`, `\bsono (frustrato|deluso)\b`, `\bancora (rotto|non funziona)\b`},
		satisfactionOverride: []string{`\b(grazie|perfetto|ottimo)\b`},
		resolutionIndicator:  []string{`\b(risolto|corretto|ora funziona)\b`},
		completionClaims:     []string{`\b(fatto|completato|finito)\b`, `\bil servizio è (attivo|completato)\b`, `\bl'?ho (corretto|completato)\b`},
		systemStateClaims:    []string{`\b(il servizio|il server|la cpu) è (attivo|down|al \d+%)\b`, `\bil deploy è (riuscito|fallito)\b`},
		opinionExclusions:    []string{`\bpenso che\b`, `\bprobabilmente\b`},
	},
	// CJK packs intentionally avoid \b: word-boundary assertions are
	// meaningless (and silently wrong) without whitespace-delimited words.
	"zh": {
		corrections:          []string{`不对，我是说`, `这是错的`, `你误解了`, `其实不是`},
		shortNegatives:       []string{`^不$`, `^不是$`},
		questions:            []string{`吗[?？]?\s*$`, `要不要`},
		dissatisfaction:      []string{`没用`, `很沮丧`, `还是坏的`},
		satisfactionOverride: []string{`谢谢`, `太好了`, `完美`},
		resolutionIndicator:  []string{`已解决`, `修好了`, `现在正常了`},
		completionClaims:     []string{`完成了`, `已完成`, `搞定了`},
		systemStateClaims:    []string{`服务正在运行`, `服务器已停止`, `CPU使用率`},
		opinionExclusions:    []string{`我觉得`, `可能`, `大概`},
	},
	"ja": {
		corrections:          []string{`いいえ、そういう意味では`, `それは間違って`, `誤解しています`, `実際には違います`},
		shortNegatives:       []string{`^いいえ$`, `^違う$`},
		questions:            []string{`か[?？]?\s*$`, `しましょうか`},
		dissatisfaction:      []string{`役に立たない`, `イライラ`, `まだ壊れている`},
		satisfactionOverride: []string{`ありがとう`, `完璧`, `素晴らしい`},
		resolutionIndicator:  []string{`解決しました`, `修正されました`, `今は動いています`},
		completionClaims:     []string{`完了しました`, `終わりました`, `できました`},
		systemStateClaims:    []string{`サービスは稼働中です`, `サーバーは停止しています`, `CPU使用率`},
		opinionExclusions:    []string{`と思います`, `たぶん`, `おそらく`},
	},
	"ko": {
		corrections:          []string{`아니요, 제 말은`, `그건 틀렸어요`, `오해하셨어요`, `사실 아니에요`},
		shortNegatives:       []string{`^아니요$`, `^아니$`},
		questions:            []string{`까요[?？]?\s*$`, `할까요`},
		dissatisfaction:      []string{`쓸모없어요`, `답답해요`, `아직도 고장났어요`},
		satisfactionOverride: []string{`감사합니다`, `완벽해요`, `좋아요`},
		resolutionIndicator:  []string{`해결됐어요`, `수정됐어요`, `이제 작동해요`},
		completionClaims:     []string{`완료했어요`, `끝났어요`, `다 됐어요`},
		systemStateClaims:    []string{`서비스가 실행 중이에요`, `서버가 중단됐어요`, `CPU 사용률`},
		opinionExclusions:    []string{`생각해요`, `아마도`, `아마`},
	},
	"ru": {
		corrections:          []string{`\bнет,? я имел в виду\b`, `\bэто (неправильно|неверно)\b`, `\bты неправильно понял\b`, `\bна самом деле,? нет\b`},
		shortNegatives:       []string{`^нет\.?$`},
		questions:            []string{`\?\s*$`, `\b(должен ли я|хочешь ли ты)\b`},
		dissatisfaction:      []string{`\bэто (бесполезно|раздражает)\b`, `\bя (расстроен|разочарован)\b`, `\bвсё ещё (сломано|не работает)\b`},
		satisfactionOverride: []string{`\b(спасибо|отлично|идеально)\b`},
		resolutionIndicator:  []string{`\b(решено|исправлено|теперь работает)\b`},
		completionClaims:     []string{`\b(готово|завершено|сделано)\b`, `\bсервис (работает|завершён)\b`, `\bя (исправил|завершил) это\b`},
		systemStateClaims:    []string{`\b(сервис|сервер|процессор) (работает|недоступен|на \d+%)\b`, `\bразвёртывание (успешно|не удалось)\b`},
		opinionExclusions:    []string{`\bя думаю\b`, `\bвероятно\b`},
	},
}

func buildBuiltinPack(code string) (*LanguagePack, error) {
	spec, ok := builtinSpecs[code]
	if !ok {
		return nil, fmt.Errorf("no builtin pattern spec for language %q", code)
	}

	pack := &LanguagePack{Code: code}
	var err error
	if pack.Corrections, err = compileAll(spec.corrections); err != nil {
		return nil, err
	}
	if pack.ShortNegatives, err = compileAll(spec.shortNegatives); err != nil {
		return nil, err
	}
	if pack.Questions, err = compileAll(spec.questions); err != nil {
		return nil, err
	}
	if pack.Dissatisfaction, err = compileAll(spec.dissatisfaction); err != nil {
		return nil, err
	}
	if pack.SatisfactionOverride, err = compileAll(spec.satisfactionOverride); err != nil {
		return nil, err
	}
	if pack.ResolutionIndicator, err = compileAll(spec.resolutionIndicator); err != nil {
		return nil, err
	}
	if pack.CompletionClaims, err = compileAll(spec.completionClaims); err != nil {
		return nil, err
	}
	if pack.SystemStateClaims, err = compileAll(spec.systemStateClaims); err != nil {
		return nil, err
	}
	if pack.OpinionExclusions, err = compileAll(spec.opinionExclusions); err != nil {
		return nil, err
	}
	return pack, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
